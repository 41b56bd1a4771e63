package retrieval

import (
	"errors"

	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
)

var (
	// ErrNoStore 表示连接器未配置向量库
	ErrNoStore = errors.New("vector store is not configured")
)

// StoreUnavailable 构造向量库不可用错误
func StoreUnavailable(backend string, cause error) *apperrors.AppError {
	return apperrors.Wrap(cause, apperrors.CodeStoreUnavailable, "vector store unavailable").
		WithField("backend", backend)
}

func noCachedResult(cause error, dims entity.FilterDimensions) *apperrors.AppError {
	return apperrors.Wrap(cause, apperrors.CodeStoreUnavailable, "vector store unavailable and no cached result").
		WithField("dimensions", dims.Summary())
}

func isConnectivityError(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeStoreUnavailable)
}
