package main

import "fmt"

func produce(ch chan int, n int) {
	for i := 0; i < n; i++ {
		ch <- i
	}
}

func main() {
	ch := make(chan int, 2)
	done := make(chan bool)

	go produce(ch, 3)
	go func() {
		sum := 0
		for i := 0; i < 3; i++ {
			sum += <-ch
		}
		fmt.Println("sum:", sum)
		done <- true
	}()

	<-done
}
