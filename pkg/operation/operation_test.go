package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	op := New(7, "worker")
	assert.Equal(t, uint64(7), op.ID)
	assert.Equal(t, "worker", op.Name)
	assert.Equal(t, StatusNone, op.Status)
	assert.Equal(t, TypeDefault, op.Type)
	assert.Equal(t, ScopeDefault, op.Scope)
	assert.Equal(t, NoGroup, op.GroupID)
	assert.True(t, op.LastMoveNextHandled)
	assert.Nil(t, op.Parent)
	assert.False(t, op.IsContinuation)
	assert.False(t, op.IsGroupOwner)
	assert.False(t, op.IsDelay)
}

func TestOperationString(t *testing.T) {
	op := New(3, "main")
	assert.Equal(t, "main(3)", op.String())
}

func TestStatusIsBlocked(t *testing.T) {
	blocked := []Status{
		StatusBlockedOnWaitAll,
		StatusBlockedOnWaitAny,
		StatusBlockedOnResource,
		StatusBlockedOnReceive,
	}
	for _, s := range blocked {
		assert.True(t, s.IsBlocked(), "%s should be blocked", s)
	}

	for _, s := range []Status{StatusNone, StatusEnabled, StatusDelayed, StatusCompleted} {
		assert.False(t, s.IsBlocked(), "%s should not be blocked", s)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusNone:              "none",
		StatusEnabled:           "enabled",
		StatusDelayed:           "delayed",
		StatusBlockedOnWaitAll:  "blocked-on-wait-all",
		StatusBlockedOnWaitAny:  "blocked-on-wait-any",
		StatusBlockedOnResource: "blocked-on-resource",
		StatusBlockedOnReceive:  "blocked-on-receive",
		StatusCompleted:         "completed",
		Status(200):             "unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestTypeIsSynchronizing(t *testing.T) {
	sync := []Type{TypeSend, TypeReceive, TypeJoin, TypeYield, TypeCreate}
	for _, ty := range sync {
		assert.True(t, ty.IsSynchronizing(), "%s should be synchronizing", ty)
	}

	other := []Type{TypeDefault, TypeStart, TypeDelay, TypeAcquire, TypeRelease, TypeComplete}
	for _, ty := range other {
		assert.False(t, ty.IsSynchronizing(), "%s should not be synchronizing", ty)
	}
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "send", TypeSend.String())
	assert.Equal(t, "acquire", TypeAcquire.String())
	assert.Equal(t, "unknown", Type(99).String())
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "default", ScopeDefault.String())
	assert.Equal(t, "synchronized", ScopeSynchronized.String())
}
