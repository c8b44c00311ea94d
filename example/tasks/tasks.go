package exampletasks

import (
	"errors"
	"time"

	"github.com/taskforge/forge/log"
	"github.com/taskforge/forge/tasks"
)

// Add ...
func Add(args ...int64) (int64, error) {
	sum := int64(0)
	for _, arg := range args {
		sum += arg
	}
	return sum, nil
}

// Multiply ...
func Multiply(args ...int64) (int64, error) {
	sum := int64(1)
	for _, arg := range args {
		sum *= arg
	}
	return sum, nil
}

// PanicTask ...
func PanicTask() (string, error) {
	panic(errors.New("oops"))
}

// LongRunningTask ...
func LongRunningTask() error {
	log.INFO.Print("Long running task started")
	for i := 0; i < 10; i++ {
		log.INFO.Print(10 - i)
		<-time.After(1 * time.Second)
	}
	log.INFO.Print("Long running task finished")
	return nil
}

// RetryTask demonstrates the custom retry mechanism. It always asks to be
// retried in 5 seconds, so the worker will keep rescheduling it until the
// retry counter runs out.
func RetryTask() error {
	return tasks.NewErrRetryTaskLater("some error", 5*time.Second)
}

// Divide fails on a zero divisor. Send it with a retry count to watch the
// worker back off and retry before giving up.
func Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

// Aggregate sums member results, meant to be used as a chord callback
func Aggregate(args ...int64) (int64, error) {
	var sum int64
	for _, arg := range args {
		sum += arg
	}
	return sum, nil
}

// The three tasks below form a document ingestion chain. Each stage passes an
// opaque payload reference to the next one.

// PDFReader ...
func PDFReader(path string) (string, error) {
	log.INFO.Printf("Reading document %s", path)
	return path + ".extracted", nil
}

// TextSplitter ...
func TextSplitter(ref string) (string, error) {
	log.INFO.Printf("Splitting %s into chunks", ref)
	return ref + ".chunks", nil
}

// Vectorstore ...
func Vectorstore(ref string) (string, error) {
	log.INFO.Printf("Indexing %s", ref)
	return ref + ".indexed", nil
}
