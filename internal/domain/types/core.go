package types

// DeviceID identifies a device record in the vault.
type DeviceID string

// String returns the string form of the device identifier.
func (id DeviceID) String() string { return string(id) }

// Fingerprint is the hex SHA-256 digest of a device's public key bytes.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Short returns the first 16 hex characters, for display and logs.
func (f Fingerprint) Short() string {
	if len(f) <= 16 {
		return string(f)
	}
	return string(f[:16])
}

// RoomID identifies a conversation that uses envelope encryption.
type RoomID string

// String returns the string form of the room identifier.
func (id RoomID) String() string { return string(id) }

// GroupID identifies a group managed by the group-key engine.
type GroupID string

// String returns the string form of the group identifier.
func (id GroupID) String() string { return string(id) }

// ConversationID identifies a conversation regardless of its crypto mode.
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }
