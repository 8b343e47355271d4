// Package mocks provides mock implementations for testing the genjobs
// orchestration system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks
// for the core ports. To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	adapter := mocks.NewMockProviderAdapter(ctrl)
//	adapter.EXPECT().CreateTask(gomock.Any(), gomock.Any()).Return("task-1", nil)
package mocks

// Generate mock for the ProviderAdapter port (Name, CreateTask, QueryStatus).
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=provider_adapter_mock.go github.com/vidora/genjobs/internal/core ProviderAdapter

// Generate mock for the JobStore port (GetJob, UpsertJob, ListJobsByStatus, DeleteJob).
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_store_mock.go github.com/vidora/genjobs/internal/core JobStore

// Generate mock for the SnapshotCache port (Save, LoadAll, Delete).
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=snapshot_cache_mock.go github.com/vidora/genjobs/internal/core SnapshotCache
