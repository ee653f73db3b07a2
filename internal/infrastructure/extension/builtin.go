package extension

import (
	"fmt"

	domainExtension "github.com/collab/admin/internal/domain/extension"
	"github.com/collab/admin/internal/infrastructure/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the backends the built-in extensions need
type Deps struct {
	DB             *gorm.DB
	Objects        storage.ObjectStore
	MailboxQuotaMB int
	Logger         *zap.Logger
}

// Builtin creates the handle of a built-in extension by name
func Builtin(name string, deps Deps) (domainExtension.Handle, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "mailbox":
		return domainExtension.NewHandle(NewMailboxExtension(deps.DB, deps.MailboxQuotaMB, logger.Named("mailbox")), false), nil
	case "filestore":
		objects := deps.Objects
		if objects == nil {
			objects = storage.NewNoopObjectStore()
		}
		return domainExtension.NewHandle(NewFilestoreExtension(objects, logger.Named("filestore")), false), nil
	case "audit":
		return domainExtension.NewHandle(NewAuditExtension(deps.DB), true), nil
	}
	return domainExtension.Handle{}, fmt.Errorf("unknown extension %q", name)
}

// RegisterBuiltins registers the named built-in extensions in order
func RegisterBuiltins(registry *domainExtension.Registry, names []string, deps Deps) error {
	for _, name := range names {
		h, err := Builtin(name, deps)
		if err != nil {
			return err
		}
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("register extension %s: %w", name, err)
		}
	}
	return nil
}
