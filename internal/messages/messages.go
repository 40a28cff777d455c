// Package messages holds the canned texts the bridge posts on either
// network. Operators can override any of them from the [messages] section
// of the config file.
package messages

const queueing = `Specified room has been successfully placed on the queue.
Please invite this %s bot to your XMPP room, and as the reason for the invitation specify the secret key that is specified in bot's config or ask the owner of this bridge instance for it.

If you have specified an incorrect room address, simply repeat
the pair command (/jabagram) with the corrected address.`

const missingMUCJID = `Please specify the MUC address of room you want to pair with this Telegram chat.`

const invalidJID = `You have specified an incorrect room JID. Please try again.`

const unbridgeTelegram = `This chat was automatically unbridged due to a bot kick in XMPP.
If you want to bridge it again, invite this bot to this chat again and use the /jabagram command.`

const unbridgeXMPP = `This chat was automatically unbridged due to a bot kick in Telegram.`

// Messages is the set of canned bridge texts.
type Messages struct {
	// Queueing is the reply to a well-formed /jabagram command. It has one
	// %s verb for the bridge's own XMPP address.
	Queueing string
	// MissingMUCJID is the reply to /jabagram without an argument.
	MissingMUCJID string
	// InvalidJID is the reply to /jabagram with a malformed room address.
	InvalidJID string
	// UnbridgeTelegram is posted to the Telegram chat when the bridge is
	// kicked from the XMPP room.
	UnbridgeTelegram string
	// UnbridgeXMPP is posted to the XMPP room when the bridge is removed
	// from the Telegram chat.
	UnbridgeXMPP string
}

// Default returns the built-in texts.
func Default() Messages {
	return Messages{
		Queueing:         queueing,
		MissingMUCJID:    missingMUCJID,
		InvalidJID:       invalidJID,
		UnbridgeTelegram: unbridgeTelegram,
		UnbridgeXMPP:     unbridgeXMPP,
	}
}
