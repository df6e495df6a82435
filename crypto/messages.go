package crypto

import (
	"errors"
	"fmt"

	"roomsync/models"
)

const (
	privateMessageInfo = "roomsync/private-message/v1"
	groupMessageInfo   = "roomsync/group-message/v1"
)

// PrivateMessageCrypto encrypts pairwise room messages with a static X25519
// agreement between the local wallet and the other room member.
type PrivateMessageCrypto struct{}

// EncryptMessage encrypts body for the counterpart in room.
func (PrivateMessageCrypto) EncryptMessage(body string, room models.RoomEntity, address, privateKey string) (string, error) {
	key, err := privateRoomKey(room, address, privateKey)
	if err != nil {
		return "", err
	}
	return seal(key, body)
}

// DecryptMessage decrypts body using the counterpart key found in room.
func (PrivateMessageCrypto) DecryptMessage(body string, room models.RoomEntity, address, privateKey string) (string, error) {
	key, err := privateRoomKey(room, address, privateKey)
	if err != nil {
		return "", err
	}
	return unseal(key, body)
}

func privateRoomKey(room models.RoomEntity, address, privateKey string) ([]byte, error) {
	peerKey, err := counterpartKey(room, address)
	if err != nil {
		return nil, err
	}
	secret, err := sharedSecret(privateKey, peerKey)
	if err != nil {
		return nil, err
	}
	return deriveKey(secret, models.NormalizeAddress(room.RoomID), privateMessageInfo)
}

func counterpartKey(room models.RoomEntity, address string) (string, error) {
	self := models.NormalizeAddress(address)
	for memberAddress, member := range room.Members {
		if models.NormalizeAddress(memberAddress) == self || member.PublicKey == "" {
			continue
		}
		return member.PublicKey, nil
	}
	return "", ErrNoPeerKey
}

// GroupMessageCrypto encrypts group messages with the room's shared key.
type GroupMessageCrypto struct{}

// EncryptMessage encrypts body with the room key and optional pin code.
func (GroupMessageCrypto) EncryptMessage(body string, room models.RoomEntity, pinCode string) (string, error) {
	key, err := groupRoomKey(room, pinCode)
	if err != nil {
		return "", err
	}
	return seal(key, body)
}

// DecryptMessage decrypts body with the room key and optional pin code.
func (GroupMessageCrypto) DecryptMessage(body string, room models.RoomEntity, pinCode string) (string, error) {
	key, err := groupRoomKey(room, pinCode)
	if err != nil {
		return "", err
	}
	return unseal(key, body)
}

func groupRoomKey(room models.RoomEntity, pinCode string) ([]byte, error) {
	if room.RoomKey == "" {
		return nil, errors.New("crypto: group room has no shared key")
	}
	secret, err := decodeRoomKey(room.RoomKey)
	if err != nil {
		return nil, err
	}
	return deriveKey(secret, pinCode, groupMessageInfo+"/"+models.NormalizeAddress(room.RoomID))
}

// NewRoomKey generates a random shared key for a group room.
func NewRoomKey() (string, error) {
	return randomBase64(messageKeySize)
}

func decodeRoomKey(roomKey string) ([]byte, error) {
	secret, err := decodeBase64(roomKey)
	if err != nil {
		return nil, fmt.Errorf("decode room key: %w", err)
	}
	if len(secret) != messageKeySize {
		return nil, fmt.Errorf("invalid room key length: got %d want %d", len(secret), messageKeySize)
	}
	return secret, nil
}
