package protocol

// USB identity of the bootloader
const (
	VendorID  = 0x1209
	ProductID = 0xBEBA
)

// MagicWord is the backup-register value that forces update mode on the
// next boot.
const MagicWord = 0x424C

// TriggerMagic is written to the application's serial port after the
// DTR toggle so it stores MagicWord and resets.
const TriggerMagic = "1EAF"
