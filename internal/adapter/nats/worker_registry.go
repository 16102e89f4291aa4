package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/repository"
)

// SyncHandler runs when a sync worker's subject fires.
type SyncHandler func(ctx context.Context, subject string, data []byte)

// WorkerRegistry owns the background sync workers: one NATS subscription per
// subject. Clearing the cache unregisters them all.
type WorkerRegistry struct {
	conn *nats.Conn
	log  logger.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

func NewWorkerRegistry(conn *nats.Conn, log logger.Logger) *WorkerRegistry {
	return &WorkerRegistry{
		conn:    conn,
		log:     log,
		workers: make(map[string]*worker),
	}
}

// Register subscribes handler to subject. Registering an already registered
// subject is a no-op.
func (r *WorkerRegistry) Register(subject string, handler SyncHandler) error {
	if subject == "" {
		return errors.New("worker subject cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[subject]; ok {
		return nil
	}

	w := &worker{subject: subject, registry: r}
	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(context.Background(), msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe sync worker to %s: %w", subject, err)
	}
	w.sub = sub
	r.workers[subject] = w
	r.log.Infof("Sync worker registered on %s", subject)
	return nil
}

func (r *WorkerRegistry) Registrations(_ context.Context) ([]repository.WorkerRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subjects := make([]string, 0, len(r.workers))
	for s := range r.workers {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	regs := make([]repository.WorkerRegistration, 0, len(subjects))
	for _, s := range subjects {
		regs = append(regs, r.workers[s])
	}
	return regs, nil
}

func (r *WorkerRegistry) remove(subject string) {
	r.mu.Lock()
	delete(r.workers, subject)
	r.mu.Unlock()
}

type worker struct {
	subject  string
	sub      *nats.Subscription
	registry *WorkerRegistry
}

func (w *worker) ID() string {
	return w.subject
}

// Unregister drops the subscription. It reports false when the worker was
// already gone.
func (w *worker) Unregister() (bool, error) {
	if !w.sub.IsValid() {
		w.registry.remove(w.subject)
		return false, nil
	}
	if err := w.sub.Unsubscribe(); err != nil {
		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			w.registry.remove(w.subject)
			return false, nil
		}
		return false, fmt.Errorf("failed to unsubscribe sync worker %s: %w", w.subject, err)
	}
	w.registry.remove(w.subject)
	return true, nil
}
