package handler

const (
	helpText = "<b>SpTube</b>\n" +
		"Send a link or a song name and pick a track from the list.\n\n" +
		"Supported links:\n" +
		"• Spotify track, album, playlist and artist\n" +
		"• YouTube and YouTube Music\n" +
		"• SoundCloud tracks and sets\n" +
		"• Apple Music albums, songs and playlists\n" +
		"• Instagram, TikTok, Pinterest, Facebook, X, Threads, Reddit and Twitch clips\n\n" +
		"Commands:\n" +
		"<code>/song</code> &lt;link|query&gt; - search or expand a link\n" +
		"<code>/help</code> - this message"
	needQuery       = "Please provide a search query."
	noResults       = "❌ No results found."
	resultsHeader   = "Search results for: <b>%s</b>\n\nPlease tap on the song you want to download."
	playlistButton  = "📦 Download all as ZIP"
	processing      = "⏳ Processing your track, please wait..."
	notForYou       = "🚫 This button wasn't meant for you."
	expiredButton   = "This button has expired, please search again."
	unknownCallback = "Unexpected callback data"
	failedText      = "❌ %s"
)
