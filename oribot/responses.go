package oribot

import (
	"fmt"
	"math/rand"
	"time"
)

// Bot name aliases recognized by the keyword gate and the trigger
// tables. The first entry is the canonical name replacements use.
var botAliases = []string{
	"ori",
	"oribot",
	"ori bot",
	"orii",
	"little spirit",
}

const canonicalBotName = "ori"

var greetingOptions = []string{
	"hi", "hello", "hey", "heya", "hiya", "yo", "howdy", "hai",
	"greetings", "henlo", "sup", "whats up", "hello there", "hi there",
	"hey there",
}

var goodbyeOptions = []string{
	"bye",
	"peace",
	"see ya",
	"later",
	"see you",
	"see ya later",
	"see you later",
	"goodbye",
	"cya",
	"im out",
	"im headed off",
	"im headed out",
	"im heading off",
	"im heading out",
	"im leaving",
	"ill be back later",
	"brb",
	"gtg",
	"g2g",
	"gotta go",
	"got to go",
	"im gonna go",
	"im going",
	"bbl",
	"ima dip",
	"gonna dip",
	"im gonna dip",
	"see u",
	"see u later",
	"have a good day",
	"have a nice day",
}

var goodnightOptions = []string{
	"nightnight", "night", "night-night", "goodnight", "gnight", "bedtime", "time for bed",
	"going to bed", "going to sleep", "sleepytime", "time to sleep", "time for me to sleep",
	"off to sleep", "off to bed", "nightynight", "gonna go to bed", "gonna go to sleep", "good night",
}

var goodmorningOptions = []string{
	"morning",
	"good morning",
	"gmorning",
	"mornin",
	"good mornin",
}

var goodafternoonOptions = []string{
	"good afternoon to you",
	"good afternoon to ya",
	"good afternoon to ye",
	"good afternoon to u",
	"gafternoon to you",
	"gafternoon to ya",
	"gafternoon to ye",
	"gafternoon to u",
	"afternoon to you", "afternoon to ya", "afternoon to ye", "afternoon to u",
	"afternoon", "good afternoon", "after noon", "good after noon", "gafternoon",
}

var goodeveningOptions = []string{
	"good evening to you",
	"good evening to ya",
	"good evening to ye",
	"good evening to u",
	"gevening to you", "gevening to ya", "gevening to ye", "gevening to u",
	"evening to you", "evening to ya", "evening to ye", "evening to u",
	"evening", "good evening", "gevening",
}

var askTimePastOptions = []string{
	"how was your day", "how was ur day", "how did ur day go", "how did your day go", "howd your day go",
	"howd ur day go", "you have a good day", "u have a good day", "how was your night", "how was ur night",
	"how did ur night go", "how did your night go", "howd your night go", "howd ur night go", "you have a good night",
	"u have a good night",
}

var askTimeNowOptions = []string{
	"how is your day", "how is ur day", "hows your day", "hows ur day",
	"how is your night", "how is ur night", "hows your night", "hows ur night",
}

var favoriteColorOptions = []string{
	"what is ur favorite color", "whats ur favorite color", "what is your favorite color", "whats your favorite color",
	"tell me your favorite color", "tell me ur favorite color", "which color do you like most", "which color do u like most",
	"which color do you like the most", "which color do u like the most", "what color do you like most", "what color do u like most",
	"what color do you like the most", "what color do u like the most",
}

var askStatusOptions = []string{
	"how are you", "how r u", "how are you feeling", "how r u feeling", "how are you doing", "how r u doing",
	"how are u", "how r you", "how r ya", "how are ya", "how are ye", "how r ye",
}

var askStatusYNOptions = []string{
	"are you doing well", "are you doing good", "you doing well", "you doing good",
}

var askActivityOptions = []string{
	"what are you up to", "what r u up to", "whatre you up to", "whatre u up to",
	"what r u doing", "what are you doing",
}

var loveOptions = []string{
	"i love", "i love you",
	"love you", "i love u", "love u",
	"i luv", "i luv you", "luv you", "luv u",
	"ily", "ly",
}

var tellActivityGoodOptions = []string{
	"i hope you are doing well", "i hope you are doing good", "i hope u r doing well", "i hope u r doing good",
	"i hope youre doing well", "i hope youre doing good", "i hope ur doing well", "i hope ur doing good",
	"i hope your day is going well", "i hope your day is going good", "i hope ur day is going well", "i hope ur day is going good",
}

var thanksOptions = []string{
	"thank you", "thank u", "thx", "thanks", "thnx", "thank ya", "thank ye", "thanx", "thankies", "tanks", "tnx",
	"big mcthankies from mcspankies",
	"thx you", "thx u", "thnx you", "thnx u",
	"tnx you", "tnx u",
}

var birthdayOptions = []string{
	"happy birthday", "happy bday", "happy b-day",
}

var kuResponses = []string{
	"Hoot.",
	"*Feathers Ruffling.*",
	"*Crunch. Mmm. Tasty grub.*",
	"*Scratch. Scratch.*",
	"*Not even paying attention at this point. Distracted by that cloud. It's a nice cloud.*",
	"*Oh, look over there! ...Wait, nevermind it's just a leaf... ...Wait.*",
	"*Flap. Flap. Wing stretch.*",
	"*Blink.*",
	"*Click. Click. Yes, beak clicking. Very good.*",
	"*Confused at the possibility of owls being brown or white. How would that even work? They're always violet...*",
	"*Poof.*",
	"*Sneeze.*",
	"*Blink. Again.*",
	"*Staring at the top of your head.*",
	"*Now has hold of your command. You're not getting it back now.*",
	"*Looking around.*",
}

var kuResponsesRare = []string{
	"You know, I *am* capable of speech. ....Yes, mom, text to speech is real speech!",
	"Why is everybody asking me to type in \"John Madden\" into this thing? And \"aeiou\"? What?",
}

// Bot birthday: March 11th. Anniversary of the home server opening.
const (
	botBirthdayMonth = time.March
	botBirthdayDay   = 11
)

// Tags gating date-dependent trigger entries.
const (
	tagBirthday    = "birthday"
	tagNotBirthday = "notbirthday"
)

const userPingPlaceholder = "{USERPING}"

func isBotBirthday(now time.Time, forced bool) bool {
	return forced || (now.Month() == botBirthdayMonth && now.Day() == botBirthdayDay)
}

// matcherResponses pairs a trigger matcher with its candidate replies.
// Trigger recognition is always strict: the whole message must be
// covered by the fragment chain.
type matcherResponses struct {
	matcher   *Matcher
	responses []string
	tag       string
}

func (mr *matcherResponses) Match(query string) ([]string, bool) {
	if mr.matcher.MatchStrict(query) {
		return mr.responses, true
	}
	return nil, false
}

func (mr *matcherResponses) MatchRandom(query string) (string, bool) {
	if mr.matcher.MatchStrict(query) {
		return mr.responses[rand.Intn(len(mr.responses))], true
	}
	return "", false
}

// ResponseLibrary holds the static trigger tables, compiled once at
// process start.
type ResponseLibrary struct {
	// Gender question, checked before everything else and answered
	// with a single fixed disclaimer.
	genderMatcher  *Matcher
	genderResponse string
	botNameKeyword *Matcher
	triggers       []matcherResponses
}

// triggerMatcher builds the standard trigger chain: start anchor, any
// punctuation, the trigger phrases, a space or period, the bot name.
func triggerMatcher(options []string) *Matcher {
	return NewMatcherBuilder().
		BeginningMarker().
		AnyPunctuation().
		Tokens(options...).
		SpaceOrPeriod().
		Tokens(botAliases...).
		mustBuild()
}

func genderQuestionPhrases() []string {
	name := rawOrGroup(orGroup(botAliases...))
	pairs := []string{
		"a boy or a girl", "boy or girl",
		"male or female", "a male or a female",
		"a boy or girl", "a male or female",
		"a girl or a boy", "girl or boy",
		"female or male", "a female or a male",
		"a girl or boy", "a female or male",
	}
	var phrases []string
	for _, pair := range pairs {
		phrases = append(phrases, fmt.Sprintf("%s %s", name, pair))
	}
	for _, pair := range pairs {
		phrases = append(phrases, fmt.Sprintf("is %s %s", name, pair))
	}
	phrases = append(phrases,
		fmt.Sprintf("what is %ss gender", name),
		fmt.Sprintf("what is %s's gender", name),
		fmt.Sprintf("whats %ss gender", name),
		fmt.Sprintf("whats %s's gender", name),
		fmt.Sprintf("what is the gender of %s", name),
		fmt.Sprintf("whats the gender of %s", name),
		fmt.Sprintf("what gender is %s", name),
		fmt.Sprintf("whats %s gender", name),
		fmt.Sprintf("what is %s gender", name),
	)
	return phrases
}

// NewResponseLibrary compiles every trigger table. Malformed fragment
// chains panic here, before the gateway connects.
func NewResponseLibrary() *ResponseLibrary {
	genderMatcher := NewMatcherBuilder().
		BeginningMarker().
		AnyPunctuation().
		Custom(rawOrGroup(genderQuestionPhrases()...)).
		mustBuild()

	keyword := NewMatcherBuilder().
		Custom(`\b` + orGroup(botAliases...) + `\b`).
		mustBuild()

	lib := &ResponseLibrary{
		genderMatcher:  genderMatcher,
		genderResponse: "You can refer to me by anything, really! Choose whatever term you think fits me best.",
		botNameKeyword: keyword,
	}

	lib.triggers = []matcherResponses{
		{
			matcher: triggerMatcher(greetingOptions),
			responses: []string{
				"Hi, {USERPING}!",
				"Hi!",
				"Oh! How are you, {USERPING}? " + emoteOriHeart,
				emoteOriWave,
				"Hey!",
				"Good to see you, {USERPING}!" + emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(goodmorningOptions),
			responses: []string{
				"Good morning!",
				"Did you have a good night's rest? " + emoteOriHeart,
				"Did you sleep well? " + emoteOriHeart,
				"Are you well-rested?",
				"Morning!",
				"Hey! Did you remember to eat your breakfast?",
				"Ready to start the day? " + emoteOriHype,
			},
		},
		{
			matcher: triggerMatcher(goodafternoonOptions),
			responses: []string{
				"To you too!",
				"Good afternoon!",
				"Thanks, {USERPING} " + emoteOriHeart,
				"It sure is!",
			},
		},
		{
			matcher: triggerMatcher(goodeveningOptions),
			responses: []string{
				"To you too!",
				"Good evening!",
				"Thanks, {USERPING} " + emoteOriHeart,
				"It sure is!",
			},
		},
		{
			matcher: triggerMatcher(goodnightOptions),
			responses: []string{
				"Goodnight!",
				"Have a good rest! " + emoteOriHeart,
				"I'll see you tomorrow, {USERPING}! " + emoteOriHeart,
				"Oh! Have a good night. " + emoteOriHeart,
				"Night!",
				"Sleep tight! " + emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(goodbyeOptions),
			responses: []string{
				"Bye! " + emoteOriHeart,
				"See you later!",
				"See you soon! " + emoteOriHeart,
				"Will I see you soon? " + emoteOriCry,
				":wave: Goodbye!",
			},
		},
		{
			matcher: triggerMatcher(askTimePastOptions),
			responses: []string{
				"It was good! " + emoteOriHype,
				"It was great!",
				"Pretty good.",
				"Not bad at all!",
			},
		},
		{
			matcher: triggerMatcher(askTimeNowOptions),
			responses: []string{
				"It's going great! " + emoteOriHype,
				"Really good.",
				"Relaxing.",
				"It's pretty enjoyable. " + emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(askStatusOptions),
			responses: []string{
				"I'm doing good! Thanks for asking " + emoteOriHeart,
				"I'm doing well.",
				"Not bad at all!",
				"I'm pretty happy.",
			},
		},
		{
			matcher: triggerMatcher(askStatusYNOptions),
			responses: []string{
				"Yep! Thanks for asking " + emoteOriHeart,
				"Uh-huh!",
				"Yeah! " + emoteOriHype,
			},
		},
		{
			matcher: triggerMatcher(askActivityOptions),
			responses: []string{
				"Oh, not much. Just relaxing!",
				"Thinking, thinking, thinking. Imagination is great!",
				"Making sure everyone here's being nice to eachother. " + emoteOriHeart,
				"Nothing but talking to you, I guess!",
			},
		},
		{
			matcher: triggerMatcher(tellActivityGoodOptions),
			responses: []string{
				"Thanks! " + emoteOriHeart,
				"To you too! " + emoteOriHeart,
				emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(favoriteColorOptions),
			responses: []string{
				"Oh... I don't know! I like greens and blues, oranges and reds, all of them really! I like all of the colors you can find in Nibel. " + emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(loveOptions),
			responses: []string{
				emoteOriHeart,
				"Aw, thanks {USERPING}! " + emoteOriHype,
				"Oh! " + emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(thanksOptions),
			responses: []string{
				"Oh! You're welcome " + emoteOriHype,
				"Of course!",
				"It was the least I could do " + emoteOriHeart,
				"Sure thing!",
				"Anything for a friend " + emoteOriHeart,
			},
		},
		{
			matcher: triggerMatcher(birthdayOptions),
			responses: []string{
				emoteOriHype + " :tada:",
				"Thank you!",
				"Hooray! :tada:",
			},
			tag: tagBirthday,
		},
		{
			matcher: triggerMatcher(birthdayOptions),
			responses: []string{
				"Today's not my birthday! It's on the 11th of March.",
				"I think you might have mixed up the date, it's on the 11th of March!",
			},
			tag: tagNotBirthday,
		},
	}

	return lib
}

// MatchGender strict-matches the gender question and returns the fixed
// disclaimer on a hit.
func (lib *ResponseLibrary) MatchGender(query string) (string, bool) {
	if lib.genderMatcher.MatchStrict(query) {
		return lib.genderResponse, true
	}
	return "", false
}

// HasBotKeyword reports whether any bot alias appears in the message.
func (lib *ResponseLibrary) HasBotKeyword(query string) bool {
	return lib.botNameKeyword.Match(query)
}

// CanonicalizeBotName rewrites every alias occurrence to the canonical
// bot name.
func (lib *ResponseLibrary) CanonicalizeBotName(query string) string {
	return lib.botNameKeyword.Replace(query, canonicalBotName)
}

// MatchTrigger walks the trigger table in order and returns the first
// eligible random reply. Entries tagged for the birthday (or its
// inverse) are skipped when the date gate does not hold.
func (lib *ResponseLibrary) MatchTrigger(query string, now time.Time, forceBirthday bool) (string, bool) {
	birthday := isBotBirthday(now, forceBirthday)
	for i := range lib.triggers {
		response, ok := lib.triggers[i].MatchRandom(query)
		if !ok {
			continue
		}
		switch lib.triggers[i].tag {
		case tagBirthday:
			if birthday {
				return response, true
			}
		case tagNotBirthday:
			if !birthday {
				return response, true
			}
		default:
			return response, true
		}
	}
	return "", false
}

// kuOverlay decides whether the owl chimes in ahead of a reply. One
// draw for the overlay itself, a 1-in-100 draw for the rare pool.
func kuOverlay(chance float64) (string, bool) {
	if rand.Float64() > chance {
		return "", false
	}
	if rand.Intn(100) == 0 {
		return kuResponsesRare[rand.Intn(len(kuResponsesRare))], true
	}
	return kuResponses[rand.Intn(len(kuResponses))], true
}
