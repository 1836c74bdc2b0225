package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	_ "modernc.org/sqlite"

	"omnigate/internal/domain"
)

// deviceKey holds the paired JID in the auth store so each instance finds
// its own device in the shared whatsmeow container.
const deviceKey = "device"

// DeviceStore is the whatsmeow Signal/device store backed by SQLite.
type DeviceStore struct {
	container *sqlstore.Container
	db        *sql.DB
}

// OpenDeviceStore opens (creating if needed) the device database at path
// and applies whatsmeow's schema.
func OpenDeviceStore(ctx context.Context, path string, logger *slog.Logger) (*DeviceStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open device db: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", newWALogger(logger, "store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade device db: %w", err)
	}
	return &DeviceStore{container: container, db: db}, nil
}

func (d *DeviceStore) Close() error {
	return d.db.Close()
}

// device returns the instance's paired device, or a fresh unpaired one.
func (d *DeviceStore) device(ctx context.Context, auth domain.AuthStore, instanceID string) (*store.Device, error) {
	if auth == nil {
		return d.container.NewDevice(), nil
	}
	raw, err := auth.Get(ctx, domain.AuthKey(instanceID, deviceKey))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return d.container.NewDevice(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load device key: %w", err)
	}
	jid, err := types.ParseJID(string(raw))
	if err != nil {
		return d.container.NewDevice(), nil
	}
	dev, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", jid, err)
	}
	if dev == nil {
		return d.container.NewDevice(), nil
	}
	return dev, nil
}

// remember records the JID a pairing produced.
func (d *DeviceStore) remember(ctx context.Context, auth domain.AuthStore, instanceID string, jid types.JID) error {
	if d == nil || auth == nil {
		return nil
	}
	return auth.Set(ctx, domain.AuthKey(instanceID, deviceKey), []byte(jid.String()))
}

// forget deletes the instance's device keys from the container.
func (d *DeviceStore) forget(ctx context.Context, auth domain.AuthStore, instanceID string) error {
	if d == nil || auth == nil {
		return nil
	}
	raw, err := auth.Get(ctx, domain.AuthKey(instanceID, deviceKey))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(string(raw))
	if err != nil {
		return nil
	}
	dev, err := d.container.GetDevice(ctx, jid)
	if err != nil || dev == nil {
		return err
	}
	return dev.Delete(ctx)
}
