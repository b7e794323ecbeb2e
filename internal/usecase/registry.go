package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// RegistryCache holds the queue registry (model name to worker id) in memory
// and refreshes it from the store at most once per reload interval. Gateway
// instances do not coordinate; they converge on the stored registry within
// one interval.
type RegistryCache struct {
	repo   domain.RegistryRepository
	reload time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	reg        map[string]string
	nextReload time.Time
}

// NewRegistryCache constructs an empty cache; call Bootstrap before serving.
func NewRegistryCache(repo domain.RegistryRepository, reload time.Duration, log *slog.Logger) *RegistryCache {
	return &RegistryCache{
		repo:   repo,
		reload: reload,
		log:    log,
		now:    time.Now,
		reg:    map[string]string{},
	}
}

// Bootstrap loads the registry at startup, creating it when absent. A failure
// here is a startup failure for the Gateway.
func (c *RegistryCache) Bootstrap(ctx context.Context) error {
	reg, err := c.repo.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("op=registry.bootstrap: %w", err)
	}
	c.mu.Lock()
	c.reg = reg
	c.nextReload = c.now().Add(c.reload)
	c.mu.Unlock()
	return nil
}

// Lookup resolves the worker that owns a model, refreshing the cache first
// when the reload interval has elapsed.
func (c *RegistryCache) Lookup(ctx context.Context, model string) (string, bool) {
	c.maybeReload(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	workerID, ok := c.reg[model]
	return workerID, ok
}

// maybeReload refreshes the in-memory registry from the store. The deadline
// is advanced before the read so concurrent requests do not pile up on the
// store; a failed read keeps the previous mapping.
func (c *RegistryCache) maybeReload(ctx context.Context) {
	c.mu.Lock()
	if c.now().Before(c.nextReload) {
		c.mu.Unlock()
		return
	}
	c.nextReload = c.now().Add(c.reload)
	c.mu.Unlock()

	reg, err := c.repo.Load(ctx)
	if err != nil {
		c.log.Error("failed to reload queue registry", slog.Any("error", err))
		return
	}
	c.mu.Lock()
	c.reg = reg
	c.mu.Unlock()
	c.log.Info("queue registry reloaded", slog.Int("models", len(reg)))
}

// Announce registers a worker as the owner of each model it serves. Every
// mapping change is persisted immediately so other Gateway instances pick it
// up on their next reload. Repeating an announcement is a no-op.
func (c *RegistryCache) Announce(ctx context.Context, workerID string, models []string) (string, error) {
	if workerID == "" {
		return "", envErr(domain.ErrInvalidArgument, "O 'worker_id' está vazio!")
	}
	c.log.Info("registering worker", slog.String("worker_id", workerID))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range models {
		old, known := c.reg[m]
		if known && old == workerID {
			continue
		}
		c.reg[m] = workerID
		if err := c.repo.Save(ctx, c.reg); err != nil {
			c.log.Error("failed to save queue registry",
				slog.String("model", m), slog.Any("error", err))
			return "", envErr(domain.ErrStoreUnavailable,
				"Não foi possível informar o nome do modelo '%s' e worker_id. Retorno da API: %v", m, err)
		}
		if known {
			c.log.Info("model reassigned to new worker",
				slog.String("model", m),
				slog.String("old_worker_id", old),
				slog.String("worker_id", workerID))
		} else {
			c.log.Info("new model registered", slog.String("model", m))
		}
	}
	return fmt.Sprintf("O 'work_id' %s e modelo(s) %s foram informados com sucesso!", workerID, quoteList(models)), nil
}

func quoteList(items []string) string {
	out := "["
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += "'" + it + "'"
	}
	return out + "]"
}
