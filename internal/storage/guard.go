package storage

import (
	"context"

	"github.com/syncslides/core/internal/codec"
	"github.com/syncslides/core/internal/syncerr"
)

// Owned enforces the single-writer-per-row discipline on top of a
// Store: a device may only write its own ViewerState rows and only
// sessions it presents. There is no cross-device lock behind this (a
// misbehaving peer could still write anything), but it keeps local
// callers honest and surfaces direct misuse as a PermissionError.
type Owned struct {
	Store
	deviceID string
}

// NewOwned wraps a store with the ownership policy for a device.
func NewOwned(s Store, deviceID string) *Owned {
	return &Owned{Store: s, deviceID: deviceID}
}

// DeviceID returns the device this store writes as.
func (o *Owned) DeviceID() string {
	return o.deviceID
}

// Put implements Store.
func (o *Owned) Put(ctx context.Context, collection, key string, value []byte) error {
	if err := o.checkWrite(collection, key, value); err != nil {
		return err
	}
	return o.Store.Put(ctx, collection, key, value)
}

// Delete implements Store.
func (o *Owned) Delete(ctx context.Context, collection, key string) error {
	if err := o.checkWrite(collection, key, nil); err != nil {
		return err
	}
	return o.Store.Delete(ctx, collection, key)
}

func (o *Owned) checkWrite(collection, key string, value []byte) error {
	switch collection {
	case codec.CollectionViewerState:
		_, deviceID, err := codec.ParseViewerStateKey(key)
		if err != nil {
			return syncerr.Validationf("%v", err)
		}
		if deviceID != o.deviceID {
			return syncerr.Permission(collection, key, o.deviceID)
		}
	case codec.CollectionSession:
		// Deletes of session rows are never allowed; ended sessions
		// stay as inert history.
		if value == nil {
			return syncerr.Permission(collection, key, o.deviceID)
		}
		session, err := codec.DecodeSession(value)
		if err != nil {
			return syncerr.Validationf("%v", err)
		}
		if session.PresenterDeviceID != o.deviceID {
			return syncerr.Permission(collection, key, o.deviceID)
		}
	}
	return nil
}
