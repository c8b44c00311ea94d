package retry

// Fibonacci returns a generator yielding 1, 1, 2, 3, 5 and so on. Retry
// delays are taken from this sequence so failing tasks back off gradually.
func Fibonacci() func() int {
	prev, next := 0, 1
	return func() int {
		prev, next = next, prev+next
		return prev
	}
}

// FibonacciNext returns the first number in the sequence greater than start
func FibonacciNext(start int) int {
	fib := Fibonacci()
	n := fib()
	for n <= start {
		n = fib()
	}
	return n
}
