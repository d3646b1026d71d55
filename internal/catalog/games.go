package catalog

import "fmt"

// providerGames maps local game slugs to the provider's game identifiers.
var providerGames = map[string]string{
	"pokemon":  "pokemon",
	"mtg":      "magic-the-gathering",
	"yugioh":   "yugioh",
	"lorcana":  "lorcana",
	"onepiece": "one-piece",
	"digimon":  "digimon",
}

// ProviderGame resolves a local game slug to the provider's identifier.
func ProviderGame(slug string) (string, error) {
	g, ok := providerGames[slug]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownGame, slug)
	}
	return g, nil
}
