package ports

import "github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"

type RepoManager interface {
	Payments() domain.PaymentRepository
	Close()
}
