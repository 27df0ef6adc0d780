package oribot

// Custom server emotes, in message-embeddable form, plus the unicode
// reactions the handlers compare against.
const (
	emoteOriHeart = "<:oriHeart:671886060357353472>"
	emoteOriHype  = "<:oriHype:671886060374130718>"
	emoteOriCry   = "<:oriCry:671886059937923082>"
	emoteOriWave  = "<:oriWave:671886060424462336>"
	emoteOriFace  = "<:oriFace:671886060225036288>"
	emoteOriKu    = "<:oriKu:671886060293980160>"

	emojiPin        = "📌"
	emojiCrossMark  = "❌"
	emojiThumbsUp   = "👍"
	emojiThumbsDown = "👎"
)
