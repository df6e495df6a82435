// Package decryptor turns room message ciphertext into best-effort plaintext.
package decryptor

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"roomsync/crypto"
	"roomsync/models"
)

// Identity supplies the local wallet.
type Identity interface {
	Current() (crypto.Wallet, bool)
}

// PrivateCrypto decrypts pairwise room messages.
type PrivateCrypto interface {
	DecryptMessage(body string, room models.RoomEntity, address, privateKey string) (string, error)
}

// GroupCrypto decrypts group room messages.
type GroupCrypto interface {
	DecryptMessage(body string, room models.RoomEntity, pinCode string) (string, error)
}

// MemberStore caches sender membership records.
type MemberStore interface {
	PutMember(ctx context.Context, address, roomID string, member models.RoomMember) error
}

// Options configures a Decryptor.
type Options struct {
	Identity Identity
	Members  MemberStore
	Private  PrivateCrypto
	Group    GroupCrypto
	// PinCode is passed to group decryption. Rooms without a pin use "".
	PinCode string
	Logger  zerolog.Logger
}

// Decryptor dispatches message decryption by room chat type.
type Decryptor struct {
	options Options
	log     zerolog.Logger
}

// New creates a Decryptor. Crypto implementations default to the crypto
// package ciphers.
func New(options Options) (*Decryptor, error) {
	if options.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if options.Members == nil {
		return nil, errors.New("member store is required")
	}
	if options.Private == nil {
		options.Private = crypto.PrivateMessageCrypto{}
	}
	if options.Group == nil {
		options.Group = crypto.GroupMessageCrypto{}
	}

	return &Decryptor{
		options: options,
		log:     options.Logger.With().Str("component", "decryptor").Logger(),
	}, nil
}

// Decrypt returns message with its body replaced by the decryption attempt.
//
// It never fails: on any internal error the message is returned unchanged.
// When the attempt runs but does not pass IsValidDecryptedBody the body is
// still replaced with whatever the cipher returned.
func (d *Decryptor) Decrypt(ctx context.Context, message models.ChatMessage, room models.RoomEntity) models.ChatMessage {
	log := d.log.With().
		Str("room_id", message.RoomID).
		Int64("timestamp", message.Timestamp).
		Logger()

	wallet, ok := d.options.Identity.Current()
	if !ok {
		log.Warn().Msg("Skipping decrypt, wallet not initialized")
		return message
	}
	if room.ChatType != message.ChatType {
		log.Warn().
			Str("room_chat_type", string(room.ChatType)).
			Str("message_chat_type", string(message.ChatType)).
			Msg("Skipping decrypt, chat type does not match room")
		return message
	}

	sender := senderMember(message)

	var (
		candidate string
		err       error
	)
	switch room.ChatType {
	case models.ChatTypePrivate:
		provisional := room.Clone()
		provisional.Members[sender.Wallet] = sender
		candidate, err = d.options.Private.DecryptMessage(message.Body, provisional, wallet.Address, wallet.PrivateKey)
	case models.ChatTypeGroup:
		candidate, err = d.options.Group.DecryptMessage(message.Body, room, d.options.PinCode)
	default:
		return message
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to decrypt message")
		return message
	}

	if IsValidDecryptedBody(message.Body, candidate) {
		if err := d.options.Members.PutMember(ctx, wallet.Address, room.RoomID, sender); err != nil {
			log.Debug().Err(err).Str("member", sender.Wallet).Msg("Ignoring member upsert failure")
		}
	}

	message.Body = candidate
	return message
}

// IsValidDecryptedBody reports whether candidate looks like a real decryption
// of ciphertext. This is a length heuristic, not an authenticity check: the
// candidate must be non-empty, differ from the ciphertext and be shorter.
func IsValidDecryptedBody(ciphertext, candidate string) bool {
	return candidate != "" &&
		ciphertext != "" &&
		candidate != ciphertext &&
		len(ciphertext) > len(candidate)
}

func senderMember(message models.ChatMessage) models.RoomMember {
	return models.RoomMember{
		MemberType: models.MemberTypeMember,
		Wallet:     models.NormalizeAddress(message.Wallet),
		PublicKey:  message.PublicKey,
		UserName:   message.FromName,
		UserAvatar: message.FromAvatar,
		Timestamp:  message.Timestamp,
	}
}
