package secbot

import (
	"context"
	"fmt"

	"github.com/secstack/secbot/common/config"
	"github.com/secstack/secbot/common/logger"
	"github.com/secstack/secbot/common/models"
	"github.com/secstack/secbot/common/repository"
)

// CheckStore persists security checks.
type CheckStore interface {
	GetOrCreate(ctx context.Context, initial *models.Check) (*models.Check, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Check, error)
}

// ScanStore persists per-scanner executions.
type ScanStore interface {
	Start(ctx context.Context, checkID int64, scanName string) (*models.Scan, error)
	Complete(ctx context.Context, scanID int64, outputComponent string, testID any) error
	SetStatus(ctx context.Context, scanID int64, status models.ScanStatus) error
	SetResponse(ctx context.Context, scanID int64, response []byte) error
	GetByName(ctx context.Context, checkID int64, scanName string) (*models.Scan, error)
	ListByCheck(ctx context.Context, checkID int64) ([]*models.Scan, error)
}

// NotificationStore delivers notifications at most once per channel.
type NotificationStore interface {
	Deliver(ctx context.Context, scanID int64, channel string, payload []byte, send repository.SendFunc) error
}

// Deps are the shared dependencies every handler receives at construction.
// The pgx repositories satisfy the store interfaces.
type Deps struct {
	Log           *logger.Logger
	Config        *config.Config
	Checks        CheckStore
	Scans         ScanStore
	Notifications NotificationStore
}

// Handler factories, one flavor per workflow role.
type (
	ScanFactory         func(deps *Deps) ScanHandler
	OutputFactory       func(deps *Deps) OutputHandler
	NotificationFactory func(deps *Deps) NotificationHandler
)

type registryKey struct {
	input string
	name  string
}

var (
	scanFactories         = make(map[registryKey]ScanFactory)
	outputFactories       = make(map[registryKey]OutputFactory)
	notificationFactories = make(map[registryKey]NotificationFactory)
)

// RegisterScanHandler binds a scan handler name under an input. Called from
// package init of each handler; duplicates panic.
func RegisterScanHandler(input, name string, factory ScanFactory) {
	key := registryKey{input: input, name: name}
	if _, exists := scanFactories[key]; exists {
		panic(fmt.Sprintf("scan handler %s/%s already registered", input, name))
	}
	scanFactories[key] = factory
}

// RegisterOutputHandler binds an output handler name under an input.
func RegisterOutputHandler(input, name string, factory OutputFactory) {
	key := registryKey{input: input, name: name}
	if _, exists := outputFactories[key]; exists {
		panic(fmt.Sprintf("output handler %s/%s already registered", input, name))
	}
	outputFactories[key] = factory
}

// RegisterNotificationHandler binds a notification handler name under an
// input.
func RegisterNotificationHandler(input, name string, factory NotificationFactory) {
	key := registryKey{input: input, name: name}
	if _, exists := notificationFactories[key]; exists {
		panic(fmt.Sprintf("notification handler %s/%s already registered", input, name))
	}
	notificationFactories[key] = factory
}

// InputHandlers are the instantiated handlers of one input, keyed by handler
// name.
type InputHandlers struct {
	Scans         map[string]ScanHandler
	Outputs       map[string]OutputHandler
	Notifications map[string]NotificationHandler
}

// InstantiateHandlers builds every handler registered under the input.
func InstantiateHandlers(input string, deps *Deps) (*InputHandlers, error) {
	handlers := &InputHandlers{
		Scans:         make(map[string]ScanHandler),
		Outputs:       make(map[string]OutputHandler),
		Notifications: make(map[string]NotificationHandler),
	}
	for key, factory := range scanFactories {
		if key.input == input {
			handlers.Scans[key.name] = factory(deps)
		}
	}
	for key, factory := range outputFactories {
		if key.input == input {
			handlers.Outputs[key.name] = factory(deps)
		}
	}
	for key, factory := range notificationFactories {
		if key.input == input {
			handlers.Notifications[key.name] = factory(deps)
		}
	}
	if len(handlers.Scans) == 0 && len(handlers.Outputs) == 0 && len(handlers.Notifications) == 0 {
		return nil, fmt.Errorf("no handlers registered for input %s", input)
	}
	return handlers, nil
}

// HandlerExists reports whether a handler name is registered under the input
// in any role. Used to validate the workflow config on startup.
func HandlerExists(input, name string) bool {
	key := registryKey{input: input, name: name}
	if _, ok := scanFactories[key]; ok {
		return true
	}
	if _, ok := outputFactories[key]; ok {
		return true
	}
	_, ok := notificationFactories[key]
	return ok
}
