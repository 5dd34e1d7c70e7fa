package strategy

import (
	"fmt"
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// operationGroup collects the operations that together implement one
// logical asynchronous task. The group, not the individual operation, is
// what carries a priority.
type operationGroup struct {
	id    int64
	owner *operation.Operation
	chain []*operation.Operation
}

func (g *operationGroup) remove(op *operation.Operation) {
	for i, member := range g.chain {
		if member == op {
			g.chain = append(g.chain[:i], g.chain[i+1:]...)
			return
		}
	}
}

func (g *operationGroup) insertAt(op *operation.Operation, idx int) {
	g.chain = append(g.chain, nil)
	copy(g.chain[idx+1:], g.chain[idx:])
	g.chain[idx] = op
}

func (g *operationGroup) enabledMembers() []*operation.Operation {
	var members []*operation.Operation
	for _, op := range g.chain {
		if op.Status == operation.StatusEnabled {
			members = append(members, op)
		}
	}
	return members
}

func (g *operationGroup) String() string {
	if g.id == operation.NoGroup {
		if g.owner != nil && g.owner.IsDelay {
			return "group(delays)"
		}
		return "group(none)"
	}
	return fmt.Sprintf("group(%d)", g.id)
}

// groupScheduler maintains the priority list of operation groups shared by
// the PCT strategies. It owns group formation, continuation remigration,
// deprioritization, and selection within the winning group.
type groupScheduler struct {
	rng *rand.Rand

	// priorityList orders groups from highest (index 0) to lowest.
	priorityList []*operationGroup

	// byOp resolves an operation id to the group it currently belongs to.
	byOp map[uint64]*operationGroup

	// known tracks the ids of all registered operations.
	known mapset.Set[uint64]

	nonGroup   *operationGroup
	delayGroup *operationGroup

	// bootstrapped flips after the first scheduling point, which alone
	// may introduce two operations (the bootstrap pair).
	bootstrapped bool
}

func newGroupScheduler(rng *rand.Rand) *groupScheduler {
	return &groupScheduler{
		rng:   rng,
		byOp:  make(map[uint64]*operationGroup),
		known: mapset.NewSet[uint64](),
	}
}

func (gs *groupScheduler) reset() {
	gs.priorityList = nil
	gs.byOp = make(map[uint64]*operationGroup)
	gs.known = mapset.NewSet[uint64]()
	gs.nonGroup = nil
	gs.delayGroup = nil
	gs.bootstrapped = false
}

// register folds the candidate set into the group bookkeeping: first-sight
// registration of new operations, then remigration of operations whose
// state machine advanced since the last scheduling point.
func (gs *groupScheduler) register(ops []*operation.Operation) {
	fresh := 0
	for _, op := range ops {
		if gs.known.Contains(op.ID) {
			continue
		}
		fresh++
		gs.registerNew(op)
	}
	limit := 1
	if !gs.bootstrapped {
		limit = 2
	}
	if fresh > limit {
		panic(fmt.Sprintf("strategy: %d operations appeared between two scheduling points, the runtime adapter is broken", fresh))
	}
	gs.bootstrapped = true

	for _, op := range ops {
		if !op.LastMoveNextHandled {
			gs.remigrate(op)
		}
	}
}

func (gs *groupScheduler) registerNew(op *operation.Operation) {
	gs.known.Add(op.ID)
	switch {
	case op.GroupID >= 0 && op.IsGroupOwner:
		g := &operationGroup{id: op.GroupID, owner: op, chain: []*operation.Operation{op}}
		gs.byOp[op.ID] = g
		gs.insertRandom(g)
	case op.GroupID == operation.NoGroup && op.IsDelay:
		if gs.delayGroup == nil {
			gs.delayGroup = &operationGroup{id: operation.NoGroup, owner: op}
			gs.insertRandom(gs.delayGroup)
		}
		gs.delayGroup.chain = append(gs.delayGroup.chain, op)
		gs.byOp[op.ID] = gs.delayGroup
	case op.GroupID == operation.NoGroup:
		if gs.nonGroup == nil {
			gs.nonGroup = &operationGroup{id: operation.NoGroup, owner: op}
			gs.insertRandom(gs.nonGroup)
		}
		gs.nonGroup.chain = append(gs.nonGroup.chain, op)
		gs.byOp[op.ID] = gs.nonGroup
	case !op.LastMoveNextHandled:
		// A continuation sighted for the first time: it joins the
		// group of its parent rather than forming one of its own.
		gs.adopt(op)
	default:
		panic(fmt.Sprintf("strategy: operation %s in group %d appeared without being registered as an owner", op, op.GroupID))
	}
}

// remigrate moves an operation whose state machine advanced into the group
// of its current parent. Group owners are pinned and only consume the
// advance flag.
func (gs *groupScheduler) remigrate(op *operation.Operation) {
	g, ok := gs.byOp[op.ID]
	if !ok {
		panic(fmt.Sprintf("strategy: remigration of unknown operation %s", op))
	}
	if g.owner == op {
		op.LastMoveNextHandled = true
		return
	}
	g.remove(op)
	gs.adopt(op)
}

// adopt inserts op at a uniformly-random index of its parent's chain.
func (gs *groupScheduler) adopt(op *operation.Operation) {
	if op.Parent == nil {
		panic(fmt.Sprintf("strategy: operation %s advanced without a parent", op))
	}
	pg, ok := gs.byOp[op.Parent.ID]
	if !ok {
		panic(fmt.Sprintf("strategy: operation %s advanced into the group of %s, which does not exist", op, op.Parent))
	}
	pg.insertAt(op, gs.rng.Intn(len(pg.chain)+1))
	gs.byOp[op.ID] = pg
	op.LastMoveNextHandled = true
	logger.Debug("pct: merged continuation",
		zap.Uint64("op", op.ID),
		zap.Uint64("parent", op.Parent.ID),
		zap.String("group", pg.String()))
}

// insertRandom places a new group at a uniformly-random priority.
func (gs *groupScheduler) insertRandom(g *operationGroup) {
	idx := 0
	if len(gs.priorityList) > 0 {
		idx = gs.rng.Intn(len(gs.priorityList) + 1)
	}
	gs.priorityList = append(gs.priorityList, nil)
	copy(gs.priorityList[idx+1:], gs.priorityList[idx:])
	gs.priorityList[idx] = g
	logger.Debug("pct: new group", zap.String("group", g.String()), zap.Int("priority", idx))
}

// deprioritize demotes a group to the tail of the priority list.
func (gs *groupScheduler) deprioritize(g *operationGroup) {
	for i, member := range gs.priorityList {
		if member == g {
			gs.priorityList = append(gs.priorityList[:i], gs.priorityList[i+1:]...)
			gs.priorityList = append(gs.priorityList, g)
			logger.Debug("pct: deprioritized group", zap.String("group", g.String()))
			return
		}
	}
}

// groupOf resolves the group of a registered operation.
func (gs *groupScheduler) groupOf(op *operation.Operation) (*operationGroup, bool) {
	g, ok := gs.byOp[op.ID]
	return g, ok
}

// highestEnabledGroup returns the highest-priority group with at least one
// enabled member, or nil when nothing is enabled.
func (gs *groupScheduler) highestEnabledGroup() *operationGroup {
	for _, g := range gs.priorityList {
		for _, op := range g.chain {
			if op.Status == operation.StatusEnabled {
				return g
			}
		}
	}
	return nil
}

// selectNext picks uniformly among the enabled members of the winning
// group.
func (gs *groupScheduler) selectNext() *operation.Operation {
	g := gs.highestEnabledGroup()
	if g == nil {
		panic("strategy: selection with no enabled operation in any group")
	}
	members := g.enabledMembers()
	return members[gs.rng.Intn(len(members))]
}
