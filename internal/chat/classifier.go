package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CategoryGeneral is the fallback bucket for queries matching no keyword.
const CategoryGeneral = "général"

// categoryBucket pairs a legal topic with the keywords that select it.
// Order matters: the first bucket with a hit wins, so the more specific
// topics come before the broad ones.
type categoryBucket struct {
	name     string
	keywords []string
}

var categoryBuckets = []categoryBucket{
	{"statuts", []string{
		"statut", "sasu", "sas", "sarl", "eurl", "société", "societe",
		"immatriculation", "création d'entreprise", "creation d'entreprise",
		"capital social", "associé", "associe", "greffe", "kbis",
	}},
	{"contrats", []string{
		"contrat", "clause", "cgv", "conditions générales", "conditions generales",
		"prestation", "bail", "avenant", "résiliation", "resiliation",
		"non-concurrence",
	}},
	{"facturation", []string{
		"facture", "facturation", "devis", "impayé", "impaye", "relance",
		"pénalité de retard", "penalite de retard", "recouvrement", "acompte",
	}},
	{"fiscalité", []string{
		"tva", "impôt", "impot", "fiscal", "urssaf déclaration", "is ",
		"micro-entreprise", "micro entreprise", "régime réel", "regime reel",
		"cfe", "liasse",
	}},
	{"social", []string{
		"salarié", "salarie", "embauche", "licenciement", "urssaf",
		"cotisation", "congé", "conge", "rupture conventionnelle", "paie",
		"prud'hommes", "prudhommes",
	}},
	{"assurance", []string{
		"assurance", "rc pro", "responsabilité civile", "responsabilite civile",
		"mutuelle", "prévoyance", "prevoyance", "sinistre",
	}},
}

// classify maps a query to its legal topic. Matching is done on the
// lowercased query; the first bucket containing any keyword wins.
func classify(query string) string {
	q := strings.ToLower(query)
	for _, bucket := range categoryBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(q, kw) {
				return bucket.name
			}
		}
	}
	return CategoryGeneral
}

// titleMaxRunes caps heuristic titles at a display-friendly length.
const titleMaxRunes = 60

// heuristicTitle derives a display title from the first question when the
// completion service could not provide one: trim, truncate on a word
// boundary and capitalize the first letter.
func heuristicTitle(query string) string {
	t := strings.Join(strings.Fields(query), " ")
	if t == "" {
		return "Nouvelle conversation"
	}
	if utf8.RuneCountInString(t) > titleMaxRunes {
		runes := []rune(t)
		cut := titleMaxRunes
		for cut > 0 && runes[cut-1] != ' ' {
			cut--
		}
		if cut == 0 {
			cut = titleMaxRunes
		}
		t = strings.TrimSpace(string(runes[:cut])) + "…"
	}
	r, size := utf8.DecodeRuneInString(t)
	return string(unicode.ToUpper(r)) + t[size:]
}
