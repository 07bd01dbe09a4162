package model

import (
	"context"
	"sync"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

var _ recorder = &recorderMock{}

type recorderMock struct {
	PrepareFunc func(ctx context.Context, s *domain.Schema, e *domain.Entity) *domain.ChangeRecord
	PersistFunc func(ctx context.Context, rec *domain.ChangeRecord) error
	RetractFunc func(ctx context.Context, s *domain.Schema, entityID, recordID string) error

	calls struct {
		Prepare []struct {
			S *domain.Schema
			E *domain.Entity
		}
		Persist []struct {
			Rec *domain.ChangeRecord
		}
		Retract []struct {
			EntityID string
			RecordID string
		}
	}
	lockPrepare sync.RWMutex
	lockPersist sync.RWMutex
	lockRetract sync.RWMutex
}

func (mock *recorderMock) Prepare(ctx context.Context, s *domain.Schema, e *domain.Entity) *domain.ChangeRecord {
	if mock.PrepareFunc == nil {
		panic("recorderMock.PrepareFunc: method is nil but recorder.Prepare was just called")
	}
	mock.lockPrepare.Lock()
	mock.calls.Prepare = append(mock.calls.Prepare, struct {
		S *domain.Schema
		E *domain.Entity
	}{S: s, E: e})
	mock.lockPrepare.Unlock()
	return mock.PrepareFunc(ctx, s, e)
}

func (mock *recorderMock) Persist(ctx context.Context, rec *domain.ChangeRecord) error {
	if mock.PersistFunc == nil {
		panic("recorderMock.PersistFunc: method is nil but recorder.Persist was just called")
	}
	mock.lockPersist.Lock()
	mock.calls.Persist = append(mock.calls.Persist, struct{ Rec *domain.ChangeRecord }{Rec: rec})
	mock.lockPersist.Unlock()
	return mock.PersistFunc(ctx, rec)
}

func (mock *recorderMock) PersistCalls() []struct{ Rec *domain.ChangeRecord } {
	mock.lockPersist.RLock()
	calls := mock.calls.Persist
	mock.lockPersist.RUnlock()
	return calls
}

func (mock *recorderMock) Retract(ctx context.Context, s *domain.Schema, entityID, recordID string) error {
	if mock.RetractFunc == nil {
		panic("recorderMock.RetractFunc: method is nil but recorder.Retract was just called")
	}
	mock.lockRetract.Lock()
	mock.calls.Retract = append(mock.calls.Retract, struct {
		EntityID string
		RecordID string
	}{EntityID: entityID, RecordID: recordID})
	mock.lockRetract.Unlock()
	return mock.RetractFunc(ctx, s, entityID, recordID)
}

func (mock *recorderMock) RetractCalls() []struct {
	EntityID string
	RecordID string
} {
	mock.lockRetract.RLock()
	calls := mock.calls.Retract
	mock.lockRetract.RUnlock()
	return calls
}
