// ABOUTME: Token relay that runs a streaming producer in the background
// ABOUTME: Exposes fragments as a closed-on-finish channel plus a terminal error

package relay

import (
	"context"
	"strings"
	"sync"
)

// Capacity is the number of fragments buffered between producer and consumer.
const Capacity = 100

// Producer writes fragments to sink until done. It must not close sink.
type Producer func(ctx context.Context, sink chan<- string) error

// Stream is one running producer.
type Stream struct {
	tokens chan string
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches produce in a new goroutine and returns immediately.
// The Tokens channel closes once produce returns. Err is set before the close.
func Start(ctx context.Context, produce Producer) *Stream {
	s := &Stream{
		tokens: make(chan string, Capacity),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		err := produce(ctx, s.tokens)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.tokens)
	}()
	return s
}

// Tokens returns the fragment channel.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Done is closed after the producer has returned and Tokens is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the producer's error. Only meaningful after Tokens is drained.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the producer finishes, discarding any remaining fragments.
func (s *Stream) Wait() error {
	for range s.tokens {
	}
	<-s.done
	return s.Err()
}

// Collect drains the stream and returns the concatenated text.
// Text received before a producer error is still returned alongside it.
func Collect(s *Stream) (string, error) {
	var b strings.Builder
	for tok := range s.tokens {
		b.WriteString(tok)
	}
	<-s.done
	return b.String(), s.Err()
}
