package chat

import (
	"regexp"
	"strings"
)

// DocumentRequest is the outcome of scanning a query for a document
// generation intent.
type DocumentRequest struct {
	IsRequest bool
	Format    string // "pdf" or "docx"
	Kind      string // document family when recognizable, e.g. "contrat"
}

// documentVerbs are the action stems that signal the user wants a file
// produced, not just an answer.
var documentVerbs = regexp.MustCompile(`(?i)\b(génère|genere|générer|generer|rédige|redige|rédiger|rediger|crée|cree|créer|creer|prépare|prepare|préparer|preparer|établis|etablis|établir|etablir)\b`)

// documentKinds name the artifacts worth generating. Scanned in order, the
// first hit labels the request.
var documentKinds = []string{
	"contrat", "devis", "facture", "statuts", "courrier", "lettre",
	"mise en demeure", "attestation", "cgv", "document",
}

// detectDocumentRequest reports whether the query asks for a generated
// document. The format defaults to pdf unless the query names docx/word.
func detectDocumentRequest(query string) DocumentRequest {
	q := strings.ToLower(query)

	kind := ""
	for _, k := range documentKinds {
		if strings.Contains(q, k) {
			kind = k
			break
		}
	}
	if kind == "" || !documentVerbs.MatchString(q) {
		return DocumentRequest{}
	}

	format := "pdf"
	if strings.Contains(q, "docx") || strings.Contains(q, "word") {
		format = "docx"
	}
	return DocumentRequest{IsRequest: true, Format: format, Kind: kind}
}
