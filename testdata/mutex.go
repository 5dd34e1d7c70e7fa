package main

import (
	"fmt"
	"sync"
)

var total int

func add(mu *sync.Mutex, n int, done chan bool) {
	mu.Lock()
	total += n
	mu.Unlock()
	done <- true
}

func main() {
	var mu sync.Mutex
	done := make(chan bool, 2)

	go add(&mu, 1, done)
	go add(&mu, 2, done)

	<-done
	<-done

	mu.Lock()
	fmt.Println("total:", total)
	mu.Unlock()
}
