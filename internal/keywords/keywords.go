// Package keywords holds the domain keyword extraction shared by the
// knowledge store and the semantic cache: a fixed physiotherapy synonym
// table, entry-type heuristics and Jaccard similarity between queries.
package keywords

import (
	"strings"

	prose "github.com/jdkato/prose/v2"

	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/utils"
)

// synonymTable maps canonical tags to their accepted variants. Variants
// containing spaces are matched as substrings of the folded query; the
// rest are matched token by token.
var synonymTable = map[string][]string{
	"lombar":         {"lombar", "lombalgia", "coluna lombar", "costas", "low back"},
	"cervical":       {"cervical", "cervicalgia", "pescoco", "torcicolo"},
	"toracica":       {"toracica", "dorsal", "coluna toracica"},
	"ombro":          {"ombro", "manguito rotador", "bursite de ombro"},
	"joelho":         {"joelho", "patela", "menisco", "ligamento cruzado"},
	"quadril":        {"quadril", "coxofemoral", "trocanter"},
	"tornozelo":      {"tornozelo", "entorse de tornozelo"},
	"punho":          {"punho", "tunel do carpo"},
	"dor":            {"dor", "dores", "dolorido", "dolorida", "algia"},
	"hernia":         {"hernia", "hernia de disco", "disco"},
	"tendinite":      {"tendinite", "tendinopatia", "tendinose"},
	"artrose":        {"artrose", "osteoartrite", "desgaste articular"},
	"ciatico":        {"ciatico", "ciatica", "nervo ciatico"},
	"escoliose":      {"escoliose", "desvio de coluna"},
	"fibromialgia":   {"fibromialgia"},
	"avc":            {"avc", "derrame", "hemiplegia"},
	"postura":        {"postura", "postural", "rpg"},
	"alongamento":    {"alongamento", "alongamentos", "alongar", "flexibilidade"},
	"fortalecimento": {"fortalecimento", "fortalecer", "musculacao", "resistencia muscular"},
	"mobilizacao":    {"mobilizacao", "mobilidade", "manipulacao"},
	"pilates":        {"pilates"},
	"eletroterapia":  {"eletroterapia", "tens", "ultrassom terapeutico"},
	"crioterapia":    {"crioterapia", "gelo", "compressa fria"},
	"termoterapia":   {"termoterapia", "calor", "compressa morna"},
	"protocolo":      {"protocolo", "protocolos", "conduta"},
	"exercicio":      {"exercicio", "exercicios", "treino", "serie de exercicios"},
	"diagnostico":    {"diagnostico", "avaliacao", "laudo"},
	"pos-operatorio": {"pos-operatorio", "pos operatorio", "pos-cirurgico", "reabilitacao cirurgica"},
}

// tokenToCanonical is built once from synonymTable for single-word lookup.
var tokenToCanonical = func() map[string]string {
	m := make(map[string]string)
	for canonical, variants := range synonymTable {
		for _, v := range variants {
			if !strings.Contains(v, " ") {
				m[v] = canonical
			}
		}
	}
	return m
}()

var diacriticFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

// Fold normalizes and strips diacritics so "exercício" and "exercicio"
// extract the same tags.
func Fold(text string) string {
	return diacriticFolder.Replace(utils.NormalizeQuery(text))
}

// Extract returns the normalized tag set for a piece of text: every
// recognized synonym contributes its canonical tag plus the single-word
// variants of that tag. Returns nil when no domain term is present.
func Extract(text string) []string {
	folded := Fold(text)
	if folded == "" {
		return nil
	}

	canonicals := make(map[string]bool)

	for _, tok := range tokenize(folded) {
		if canonical, ok := tokenToCanonical[tok]; ok {
			canonicals[canonical] = true
		}
	}

	for canonical, variants := range synonymTable {
		if canonicals[canonical] {
			continue
		}
		for _, v := range variants {
			if strings.Contains(v, " ") && strings.Contains(folded, v) {
				canonicals[canonical] = true
				break
			}
		}
	}

	if len(canonicals) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var tags []string
	for canonical := range canonicals {
		for _, t := range append([]string{canonical}, singleWordVariants(canonical)...) {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// GuessType derives an entry-type filter from the query wording. An empty
// result means no narrowing.
func GuessType(text string) string {
	folded := Fold(text)

	switch {
	case containsAny(folded, "protocolo", "protocol", "conduta"):
		return models.EntryTypeProtocol
	case containsAny(folded, "diagnostico", "diagnose", "avaliacao", "laudo"):
		return models.EntryTypeDiagnosis
	case containsAny(folded, "exercicio", "alongamento", "fortalecimento", "treino"):
		return models.EntryTypeExercise
	}
	return ""
}

// Jaccard computes intersection-over-union between the two texts' keyword
// sets. When either side carries no domain keyword, both sides fall back
// to their first five generic words.
func Jaccard(a, b string) float64 {
	setA := toSet(Extract(a))
	setB := toSet(Extract(b))

	if len(setA) == 0 || len(setB) == 0 {
		setA = toSet(genericWords(a))
		setB = toSet(genericWords(b))
	}

	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func genericWords(text string) []string {
	words := tokenize(Fold(text))
	if len(words) > 5 {
		words = words[:5]
	}
	return words
}

// tokenize runs the prose tokenizer over already-normalized text and keeps
// word tokens only.
func tokenize(folded string) []string {
	doc, err := prose.NewDocument(folded,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return strings.Fields(folded)
	}

	var words []string
	for _, tok := range doc.Tokens() {
		if tok.Text != "" {
			words = append(words, tok.Text)
		}
	}
	if len(words) == 0 {
		return strings.Fields(folded)
	}
	return words
}

func singleWordVariants(canonical string) []string {
	var out []string
	for _, v := range synonymTable[canonical] {
		if !strings.Contains(v, " ") {
			out = append(out, v)
		}
	}
	return out
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func containsAny(text string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
