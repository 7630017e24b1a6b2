package memory

import (
	"fmt"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/signups"
)

// RepositoryManager vends repositories over a *Store or *Tx handle.
type RepositoryManager struct{}

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{}
}

func (m *RepositoryManager) Certificates(db dbx.DBTX) certificates.Repository {
	return &CertificateRepository{h: handle(db)}
}

func (m *RepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return &AuditRepository{h: handle(db)}
}

func (m *RepositoryManager) Signups(db dbx.DBTX) signups.Repository {
	return &SignupRepository{h: handle(db)}
}

func handle(db dbx.DBTX) accessor {
	a, ok := db.(accessor)
	if !ok {
		panic(fmt.Sprintf("memory: unsupported handle %T", db))
	}
	return a
}
