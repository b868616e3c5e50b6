package pool

// Pool is a strongly typed wrapper around sync.Pool with optional Reset()
// support. It eliminates unsafe type assertions and plays nicely with
// golangci-lint. Objects returned from Get() are guaranteed to be the
// correct type; if the pooled type implements Resettable it is zeroed on the
// way back in via Put().
//
// The engine recycles HTTP framer state through one of these so keep-alive
// churn does not allocate per request:
//
//   requests := pool.NewLitePool(func() *httpframe.Request {
//     return httpframe.NewRequest()
//   })
//
//   req := requests.Get()
//   ...
//   requests.Put(req)

import "sync"

type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	pool sync.Pool
	new  func() T
}

func NewLitePool[T any](newFn func() T) *Pool[T] {
	if newFn == nil {
		panic("litepool: constructor must not be nil")
	}
	// Validate early that the result is non-nil
	test := newFn()
	if any(test) == nil {
		panic("litepool: constructor returned nil")
	}

	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				v := newFn()
				if any(v) == nil {
					panic("litepool: constructor returned nil")
				}
				return v
			},
		},
		new: newFn,
	}
}

func (p *Pool[T]) Get() T {
	//nolint:forcetypeassert // safe due to validated New
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.pool.Put(v)
}
