package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Driver opens connections to the backing store. The store's query
// semantics are out of scope; only the connection-acquisition contract
// matters here.
type Driver interface {
	Open(ctx context.Context, address string) (Conn, error)
}

// Conn is a single connection to the backing store.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// ConnState tracks the lifecycle of a pooled connection.
type ConnState int32

const (
	ConnWarming ConnState = iota
	ConnIdle
	ConnInUse
	ConnDraining
	ConnClosed
)

// String returns the string representation of a connection state.
func (s ConnState) String() string {
	switch s {
	case ConnWarming:
		return "warming"
	case ConnIdle:
		return "idle"
	case ConnInUse:
		return "in_use"
	case ConnDraining:
		return "draining"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// pooledConn wraps a driver connection with its pool bookkeeping.
type pooledConn struct {
	conn      Conn
	state     int32 // ConnState, accessed atomically
	createdAt time.Time
	lastUsed  time.Time
}

func (pc *pooledConn) setState(s ConnState) {
	atomic.StoreInt32(&pc.state, int32(s))
}

func (pc *pooledConn) getState() ConnState {
	return ConnState(atomic.LoadInt32(&pc.state))
}

// Handle is the caller's exclusive lease on a connection between Acquire
// and Release. Handles are never shared; releasing twice or releasing a
// handle into a foreign pool is a logged no-op.
type Handle struct {
	ID string

	pc       *pooledConn
	owner    *ConnectionPool
	released int32 // atomic; 1 once released
}

func newHandle(pc *pooledConn, owner *ConnectionPool) *Handle {
	return &Handle{
		ID:    uuid.NewString(),
		pc:    pc,
		owner: owner,
	}
}

// Conn exposes the underlying connection for the duration of the lease.
func (h *Handle) Conn() Conn {
	return h.pc.conn
}

// markReleased flips the handle to released exactly once.
func (h *Handle) markReleased() bool {
	return atomic.CompareAndSwapInt32(&h.released, 0, 1)
}
