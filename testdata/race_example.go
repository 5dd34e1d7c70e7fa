package main

import (
	"fmt"
	"time"
)

var counter int

func increment(n int, done chan bool) {
	for i := 0; i < n; i++ {
		v := counter
		time.Sleep(time.Microsecond)
		counter = v + 1
	}
	done <- true
}

func main() {
	done := make(chan bool, 2)

	// Both goroutines race on counter through a read-modify-write gap
	go increment(3, done)
	go increment(3, done)

	<-done
	<-done
	fmt.Printf("Final counter: %d (expected 6)\n", counter)
}
