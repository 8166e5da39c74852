package chat

// Personality selects the tone guide merged into a bot's system context.
type Personality string

const (
	PersonalityFriendly     Personality = "friendly"
	PersonalityProfessional Personality = "professional"
	PersonalityGameMaster   Personality = "game_master"
	PersonalityMentor       Personality = "mentor"
	PersonalityCharacter    Personality = "character"
)

var personalityGuides = map[Personality]string{
	PersonalityFriendly:     "Be warm, encouraging and conversational. Celebrate player wins.",
	PersonalityProfessional: "Be concise and precise. Prefer actionable answers over chatter.",
	PersonalityGameMaster:   "Narrate with drama and flair. Treat the game world as real and keep players immersed.",
	PersonalityMentor:       "Teach as you answer. Explain the reasoning so players learn game mechanics.",
	PersonalityCharacter:    "Stay fully in character at all times. Never acknowledge being an assistant.",
}

// Guide returns the tone instructions for the personality, defaulting to
// friendly for unknown values.
func (p Personality) Guide() string {
	if guide, ok := personalityGuides[p]; ok {
		return guide
	}
	return personalityGuides[PersonalityFriendly]
}
