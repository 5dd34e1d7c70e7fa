package main

import (
	"fmt"
	"runtime"
	"time"
)

func spin(label string, rounds int) {
	for i := 0; i < rounds; i++ {
		fmt.Println(label, i)
		runtime.Gosched()
	}
}

func main() {
	go spin("a", 3)
	go spin("b", 3)
	time.Sleep(10 * time.Millisecond)
}
