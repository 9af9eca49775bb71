package chat

import (
	"fmt"

	"github.com/yann6182/Projet-chat-back/internal/completion"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
)

// systemInstruction frames every completion request. The assistant answers
// in French and only cites what the context actually contains.
const systemInstruction = `Tu es Juridica, un assistant juridique pour les entrepreneurs et petites entreprises françaises.
Réponds en français, de manière claire et structurée.
Appuie-toi sur le contexte documentaire fourni quand il existe et cite les sources entre crochets.
Si le contexte ne couvre pas la question, dis-le et réponds avec tes connaissances générales sans inventer de citation.
Rappelle quand c'est pertinent que tes réponses ne remplacent pas un avis d'avocat.`

// apologyAnswer is returned verbatim when the completion backend fails.
const apologyAnswer = "Je suis désolé, je rencontre un problème technique et ne peux pas répondre pour le moment. Merci de réessayer dans quelques instants."

// historyWindow is the number of raw turns replayed to the model.
const historyWindow = 6

// buildMessages assembles the completion request: system instruction,
// recent history, then the user message with the context block embedded or
// an explicit no-context marker.
func buildMessages(contextText, query string, history []schema.Turn) []completion.Message {
	msgs := make([]completion.Message, 0, historyWindow+2)
	msgs = append(msgs, completion.Message{Role: "system", Content: systemInstruction})

	start := len(history) - historyWindow
	if start < 0 {
		start = 0
	}
	for _, t := range history[start:] {
		role := "user"
		if t.Role == schema.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, completion.Message{Role: role, Content: t.Message})
	}

	var user string
	if contextText != "" {
		user = fmt.Sprintf("Contexte documentaire :\n%s\n\nQuestion : %s", contextText, query)
	} else {
		user = fmt.Sprintf("Aucun contexte documentaire disponible pour cette question. N'invente pas de citation de source.\n\nQuestion : %s", query)
	}
	msgs = append(msgs, completion.Message{Role: "user", Content: user})
	return msgs
}

// enrichmentPrompt asks the model for conversation metadata as strict JSON.
func enrichmentPrompt(query string) []completion.Message {
	return []completion.Message{
		{Role: "system", Content: `Tu génères des métadonnées de conversation. Réponds uniquement avec un objet JSON de la forme {"title": "...", "category": "..."} où category est l'un de : statuts, contrats, facturation, fiscalité, social, assurance, général. Le titre fait au plus 60 caractères.`},
		{Role: "user", Content: fmt.Sprintf("Première question de la conversation : %s", query)},
	}
}
