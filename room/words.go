/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed words/*.json
var wordFiles embed.FS

// Words maps each language to its secret word list.
type Words map[Language][]string

// LoadWords reads the word lists bundled with the binary.
func LoadWords() (Words, error) {
	words := make(Words)

	for _, lang := range []Language{LanguageEnglish, LanguageFrench} {
		data, err := wordFiles.ReadFile("words/" + string(lang) + ".json")
		if err != nil {
			return nil, fmt.Errorf("reading %s word list: %w", lang, err)
		}

		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parsing %s word list: %w", lang, err)
		}

		words[lang] = list
	}

	return words, nil
}
