package session

import (
	"fmt"

	"github.com/gPlorovg/sayo-captions/internal/discord"
)

const (
	commandConnect    = "captions-connect"
	commandDisconnect = "captions-disconnect"
	commandStatus     = "captions-status"

	slashCommandConnectDescription    = "Connect the caption stream to the transcription service."
	slashCommandDisconnectDescription = "Disconnect the caption stream and post the transcript."
	slashCommandStatusDescription     = "Show the caption stream connection status."

	messageEphemeralWrongGuild     = ":warning: **This command is not available on this server.**"
	messageEphemeralUnknownCommand = ":warning: **Unknown command.**"
	messageEphemeralAlreadyRunning = ":warning: **Captions are already connected or connecting.**"
	messageEphemeralNotRunning     = ":warning: **Captions are not connected.**"

	messageConnectingFormat   = ":hourglass: **Connecting to %s (%s).**"
	messageDisconnectedTitle  = ":pause_button: **Captions disconnected.**"
	messageConnectedFormat    = ":microphone2: **Captions connected to %s.**"
	messageConnectedHint      = "-# /" + commandDisconnect + " stops the stream."
	messageStatusFormat       = "Status: **%s**, running: **%t**, backend: %s (%s)"
	messageAttachmentTitle    = ":page_facing_up: **Transcript**"
	messageStopReasonPrefix   = "-# "
	messageRestartHint        = "-# /" + commandConnect + " starts a new stream."
	messageReconnectingFormat = ":arrows_counterclockwise: **Stream lost, reconnecting (attempt %d of %d).**"
)

const (
	stopReasonOperator    = "operator"
	stopReasonStreamEnded = "stream_ended"
	stopReasonShutdown    = "shutdown"
	stopReasonCanceled    = "canceled"
	stopReasonOrphaned    = "orphaned"
)

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandConnect, Description: slashCommandConnectDescription},
		{Name: commandDisconnect, Description: slashCommandDisconnectDescription},
		{Name: commandStatus, Description: slashCommandStatusDescription},
	}
}

func connectedMessage(target string) string {
	return fmt.Sprintf(messageConnectedFormat, target) + "\n" + messageConnectedHint
}

func stopReasonDetail(reason string) string {
	switch reason {
	case stopReasonOperator:
		return "An operator disconnected the stream."
	case stopReasonStreamEnded:
		return "The transcription service closed the stream."
	case stopReasonShutdown:
		return "The caption service is shutting down."
	case stopReasonCanceled:
		return "The connection was canceled before it was established."
	case stopReasonOrphaned:
		return "The session was left running by a previous process."
	default:
		return "An unknown error occurred."
	}
}

func stopReasonNeedsRestart(reason string) bool {
	switch reason {
	case stopReasonStreamEnded, stopReasonShutdown:
		return true
	default:
		return false
	}
}
