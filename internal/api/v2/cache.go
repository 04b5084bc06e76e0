package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
	"github.com/liftmate/liftmate/internal/offline"
)

// entryCounter is implemented by stores that count entries without
// listing keys.
type entryCounter interface {
	CountEntries(ctx context.Context, namespace string) (int64, error)
}

// StatusResponse describes the registration and its clients.
type StatusResponse struct {
	Registration offline.Status       `json:"registration"`
	Clients      []offline.ClientInfo `json:"clients"`
}

// NamespaceInfo describes one cache namespace.
type NamespaceInfo struct {
	Name    string `json:"name"`
	Entries int64  `json:"entries"`
	Current bool   `json:"current"`
}

// EntriesResponse lists the keys of a namespace.
type EntriesResponse struct {
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
	Count     int      `json:"count"`
}

// initCacheRoutes registers offline cache endpoints.
func (c *Controller) initCacheRoutes() {
	cache := c.Group.Group("/cache", c.rateLimiter())

	cache.GET("/status", c.GetCacheStatus)
	cache.GET("/namespaces", c.ListNamespaces)
	cache.GET("/namespaces/:name/entries", c.ListNamespaceEntries)
	cache.DELETE("/namespaces/:name", c.DeleteNamespace)
	cache.POST("/update", c.UpdateWorker)
}

func (c *Controller) activeVersion() string {
	if w := c.Registration.Active(); w != nil {
		return w.Version()
	}
	return ""
}

// GetCacheStatus returns the registration snapshot.
func (c *Controller) GetCacheStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatusResponse{
		Registration: c.Registration.Status(),
		Clients:      c.Registration.Clients(),
	})
}

// ListNamespaces returns every namespace with its entry count.
func (c *Controller) ListNamespaces(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	names, err := c.Store.ListNamespaces(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list cache namespaces", http.StatusInternalServerError)
	}

	active := c.activeVersion()
	out := make([]NamespaceInfo, 0, len(names))
	for _, name := range names {
		count, err := c.countEntries(reqCtx, name)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to count cache entries", http.StatusInternalServerError)
		}
		out = append(out, NamespaceInfo{Name: name, Entries: count, Current: name == active})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"namespaces": out,
		"count":      len(out),
	})
}

func (c *Controller) countEntries(ctx context.Context, name string) (int64, error) {
	if counter, ok := c.Store.(entryCounter); ok {
		return counter.CountEntries(ctx, name)
	}
	keys, err := c.Store.Keys(ctx, name)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (c *Controller) namespaceExists(ctx context.Context, name string) (bool, error) {
	names, err := c.Store.ListNamespaces(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// ListNamespaceEntries returns the cache keys stored in a namespace.
func (c *Controller) ListNamespaceEntries(ctx echo.Context) error {
	name := ctx.Param("name")
	reqCtx := ctx.Request().Context()

	exists, err := c.namespaceExists(reqCtx, name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to look up cache namespace", http.StatusInternalServerError)
	}
	if !exists {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Cache namespace not found"})
	}

	keys, err := c.Store.Keys(reqCtx, name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list cache entries", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, EntriesResponse{Namespace: name, Keys: keys, Count: len(keys)})
}

// workerRole names the registration slot whose worker owns namespace name,
// or returns "" when no live worker uses it.
func (c *Controller) workerRole(name string) string {
	slots := []struct {
		role   string
		worker *offline.Worker
	}{
		{"active", c.Registration.Active()},
		{"waiting", c.Registration.Waiting()},
		{"installing", c.Registration.Installing()},
	}
	for _, slot := range slots {
		if slot.worker != nil && slot.worker.Version() == name {
			return slot.role
		}
	}
	return ""
}

// DeleteNamespace purges a namespace no live worker depends on. The active,
// waiting and installing workers' namespaces are refused with 409.
func (c *Controller) DeleteNamespace(ctx echo.Context) error {
	name := ctx.Param("name")
	if role := c.workerRole(name); role != "" {
		return ctx.JSON(http.StatusConflict, map[string]string{
			"error": "Cannot delete the namespace of the " + role + " worker",
		})
	}

	existed, err := c.Store.DeleteNamespace(ctx.Request().Context(), name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to delete cache namespace", http.StatusInternalServerError)
	}
	if !existed {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Cache namespace not found"})
	}

	c.logger.Info("cache namespace deleted", logger.String("namespace", name))
	return ctx.JSON(http.StatusOK, map[string]string{
		"message":   "Cache namespace deleted",
		"namespace": name,
	})
}

// UpdateWorker installs a worker built from the current settings. The
// response is 200 when the new worker is active and 202 while it waits
// for clients of the previous version to close.
func (c *Controller) UpdateWorker(ctx echo.Context) error {
	if c.NewWorker == nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Worker updates are not available",
		})
	}
	reqCtx := ctx.Request().Context()

	w, err := c.NewWorker(reqCtx)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.IsCategory(err, errors.CategoryValidation) || errors.IsCategory(err, errors.CategoryConfig) {
			code = http.StatusBadRequest
		}
		return c.HandleError(ctx, err, "Failed to create worker", code)
	}

	if err := c.Registration.Register(reqCtx, w); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, offline.ErrManifestFetch) {
			code = http.StatusBadGateway
		}
		return c.HandleError(ctx, err, "Worker failed to install", code)
	}

	code := http.StatusOK
	if c.Registration.Active() != w {
		code = http.StatusAccepted
	}
	return ctx.JSON(code, c.Registration.Status())
}
