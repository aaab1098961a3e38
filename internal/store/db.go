package store

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const KeyIdentity = "identity.peer_id"

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Setting{}, &Contact{}, &Message{}, &CarriedMessage{}, &PeerObservation{}); err != nil {
		return nil, err
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetSetting returns the value stored under key and whether it exists.
func GetSetting(db *gorm.DB, key string) (string, bool, error) {
	var s Setting
	err := db.First(&s, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

func PutSetting(db *gorm.DB, key, value string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&Setting{Name: key, Value: value}).Error
}

// UpsertContact inserts the contact or refreshes its display fields.
// CreatedAt of an existing row is preserved.
func UpsertContact(db *gorm.DB, c Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "peer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "username", "avatar_ref", "addr", "last_seen"}),
	}).Create(&c).Error
}

func GetContacts(db *gorm.DB) ([]Contact, error) {
	var contacts []Contact
	result := db.Order("created_at asc, peer_id asc").Find(&contacts)
	return contacts, result.Error
}

func GetContact(db *gorm.DB, peerID string) (Contact, bool, error) {
	var c Contact
	err := db.First(&c, "peer_id = ?", peerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Contact{}, false, nil
	}
	return c, err == nil, err
}

func SaveMessage(db *gorm.DB, msg *Message) error {
	return db.Create(msg).Error
}

// SaveMessageIfAbsent stores msg unless a message with the same id exists.
// It reports whether a row was written.
func SaveMessageIfAbsent(db *gorm.DB, msg *Message) (bool, error) {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(msg)
	return result.RowsAffected > 0, result.Error
}

func GetMessage(db *gorm.DB, id string) (Message, bool, error) {
	var m Message
	err := db.First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, false, nil
	}
	return m, err == nil, err
}

func GetMessages(db *gorm.DB, limit int) ([]Message, error) {
	var messages []Message
	result := db.Order("created_at desc").Limit(limit).Find(&messages)
	return messages, result.Error
}

func GetConversation(db *gorm.DB, conversationID string) ([]Message, error) {
	var messages []Message
	result := db.Where("conversation_id = ?", conversationID).Order("created_at asc").Find(&messages)
	return messages, result.Error
}

// GetPendingOutbound returns messages authored by senderID that are still pending,
// oldest first.
func GetPendingOutbound(db *gorm.DB, senderID string) ([]Message, error) {
	var messages []Message
	result := db.Where("sender_id = ? AND state = ?", senderID, StatePending).
		Order("created_at asc, id asc").Find(&messages)
	return messages, result.Error
}

// MarkDelivered flips a pending message to delivered. A delivered message is
// never touched again, so the transition happens at most once.
func MarkDelivered(db *gorm.DB, id string, at time.Time) (bool, error) {
	result := db.Model(&Message{}).
		Where("id = ? AND state = ?", id, StatePending).
		Updates(map[string]interface{}{"state": StateDelivered, "delivered_at": at})
	return result.RowsAffected > 0, result.Error
}

// InsertCarried adds cm to the carried-set. Re-inserting an existing id is a no-op.
func InsertCarried(db *gorm.DB, cm *CarriedMessage) (bool, error) {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(cm)
	return result.RowsAffected > 0, result.Error
}

func GetCarried(db *gorm.DB) ([]CarriedMessage, error) {
	var carried []CarriedMessage
	result := db.Order("created_at asc, id asc").Find(&carried)
	return carried, result.Error
}

func CountCarried(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&CarriedMessage{}).Count(&n).Error
	return n, err
}

// PurgeExpired deletes every carried message whose expiry is before now.
// The comparison runs in Go so stored timezone offsets do not matter.
func PurgeExpired(db *gorm.DB, now time.Time) (int64, error) {
	carried, err := GetCarried(db)
	if err != nil {
		return 0, err
	}
	var expired []string
	for _, cm := range carried {
		if cm.Expired(now) {
			expired = append(expired, cm.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	result := db.Where("id IN ?", expired).Delete(&CarriedMessage{})
	return result.RowsAffected, result.Error
}

// SavePeerTable replaces the persisted observation cache with obs and
// refreshes last_seen on the contacts listed in seen.
func SavePeerTable(db *gorm.DB, obs []PeerObservation, seen map[string]time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&PeerObservation{}).Error; err != nil {
			return err
		}
		if len(obs) > 0 {
			if err := tx.Create(&obs).Error; err != nil {
				return err
			}
		}
		for id, at := range seen {
			if err := tx.Model(&Contact{}).Where("peer_id = ?", id).Update("last_seen", at).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func LoadPeerTable(db *gorm.DB) ([]PeerObservation, error) {
	var obs []PeerObservation
	result := db.Order("position asc").Find(&obs)
	return obs, result.Error
}

// RelayChanges is everything one relay pass wants to write.
type RelayChanges struct {
	Delivered []string
	Carried   []CarriedMessage
	Removed   []string
	At        time.Time
}

func (c RelayChanges) Empty() bool {
	return len(c.Delivered) == 0 && len(c.Carried) == 0 && len(c.Removed) == 0
}

// ApplyRelay commits a relay pass in a single transaction.
func ApplyRelay(db *gorm.DB, changes RelayChanges) error {
	if changes.Empty() {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if len(changes.Removed) > 0 {
			if err := tx.Where("id IN ?", changes.Removed).Delete(&CarriedMessage{}).Error; err != nil {
				return err
			}
		}
		for i := range changes.Carried {
			if _, err := InsertCarried(tx, &changes.Carried[i]); err != nil {
				return err
			}
		}
		for _, id := range changes.Delivered {
			if _, err := MarkDelivered(tx, id, changes.At); err != nil {
				return err
			}
		}
		return nil
	})
}
