package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback payloads carried by inline buttons.
const (
	cbHelp              = "help"
	cbCreateChannelHelp = "create_channel_help"
	cbCurrentTrack      = "current_track"
	cbUpdateChannel     = "update_channel"
	cbChannelSettings   = "channel_settings"
	cbSettings          = "settings"
	cbDisconnect        = "disconnect"
)

const dateLayout = "2006-01-02"

const (
	textStart = `🎵 *Spotify Status Bot*

Show the music you are listening to in your Telegram profile through a channel.

*Features:*
• Channel title follows the current track
• Playback progress bar
• Album cover as the channel photo

👇 *Start by connecting Spotify*`

	textHelp = `📚 *How it works*

*1. Connect Spotify*
• Press "Connect Spotify"
• Sign in to your account

*2. Create a channel*
• Create a new public channel in Telegram
• Add this bot as an administrator allowed to:
  - change channel info
  - post messages
  - edit messages
• Send: /channel @your_channel

*3. Add it to your profile*
• Settings > Edit profile > Channel

*Commands:*
/start - connect Spotify
/status - connection status
/current - current track
/channel @username - set up the channel
/disconnect - disconnect`

	textCommands = `🤖 *Commands:*

/start - connect Spotify
/help - instructions
/status - connection status
/current - current track
/channel @username - set up the channel
/disconnect - disconnect

❓ /help for details`

	textNotConnected     = "❌ *Spotify is not connected*\n\nConnect your Spotify account to get started."
	textNothingPlaying   = "⏸ Nothing is playing"
	textTrackError       = "❌ Couldn't fetch the track. Try reconnecting: /start"
	textDisconnected     = "🔌 *Spotify disconnected*\n\n/start - connect again"
	textChannelUsage     = "❌ *Invalid channel*\n\nFormat: /channel @your\\_channel\nOr: /channel https://t.me/your\\_channel"
	textChannelFailed    = "❌ Channel setup failed, try again later"
	textAdminCheckFailed = "⚠️ Couldn't verify the bot's rights in that channel right now, try again in a minute"
	textNoChannel        = "❌ Channel is not configured\n\nSee /help for instructions"
	textUpdated          = "✅ Channel updated"
	textUpdateFailed     = "❌ Update failed"
)

func textNoAdmin(channel string) string {
	return fmt.Sprintf(`❌ *Missing admin rights*

Add the bot to @%s as an administrator allowed to:
• change channel info
• post messages
• edit messages`, EscapeMarkdown(channel))
}

func textChannelReady(channel string) string {
	return fmt.Sprintf(`✅ *Channel is set up*

🎯 @%s

*Add the channel to your profile:*
Settings > Edit profile > Channel`, EscapeMarkdown(channel))
}

func textCreateChannelHelp(botUsername string) string {
	return fmt.Sprintf(`📚 *Creating a channel*

*Steps:*
1. Telegram > New channel
2. Make it public with an @username
3. Manage channel > Administrators
4. Add @%s
5. Rights: change info, post and edit messages
6. Here: /channel @your\_channel

*Profile:*
Settings > Edit profile > Channel`, EscapeMarkdown(botUsername))
}

func textConnected(botUsername string) string {
	return fmt.Sprintf(`🎉 *Spotify connected!*

✅ Tracking is active

*Now create a channel:*
1. A new channel in Telegram
2. Add @%s as an administrator
3. /channel @your\_channel

🎧 Start playing something in Spotify!`, EscapeMarkdown(botUsername))
}

func keyboard(rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func linkButton(text, url string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonURL(text, url)
}
