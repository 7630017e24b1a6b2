// Package repomanager vends repositories bound to a dbx.DBTX, so services
// can use the same repository code inside and outside a transaction.
package repomanager

import (
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/signups"
)

type RepositoryManager interface {
	Certificates(db dbx.DBTX) certificates.Repository
	Audit(db dbx.DBTX) audit.Repository
	Signups(db dbx.DBTX) signups.Repository
}
