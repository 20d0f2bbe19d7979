package providers

import (
	"fmt"
	"time"
)

// suggestionsInstructions tells the model to embed a fenced SEARCH_TERMS_JSON
// block in its reply. The block is extracted server-side and stripped from the
// final text, so the instructions are identical for every provider.
const suggestionsInstructions = `As part of your reasoning process, you must carefully review the results from the native web search. Based on the key topics, frequently mentioned concepts, and emerging trends identified in those results, generate a JSON object containing recommended search terms that you believe would be most helpful or relevant for the user to explore next.
        This JSON object should be in the following format:

        {
        "searchTerms": ["term1", "term2", "term3"],
        "confidence": 0.8,
        "reasoning": "Brief explanation of why these terms were selected"
        }

        Include this JSON object in your response, surrounded by triple backticks and labeled as "SEARCH_TERMS_JSON".
        For example:

        ` + "```SEARCH_TERMS_JSON" + `
        {
        "searchTerms": ["quantum computing", "qubits", "superposition"],
        "confidence": 0.9,
        "reasoning": "These terms cover the core concepts of quantum computing"
        }
        ` + "```" + `
When crafting your recommendations:

Only suggest terms directly derived from or strongly related to the web search results you reviewed.
Prioritize terms that appeared multiple times, showed up in authoritative sources, or represent meaningful directions for further exploration.
The reasoning field must clearly explain the connection between the search results and the recommended terms.
After providing this JSON, continue with your normal response to the user's query.`

// SystemPrompt builds the system prompt for a provider turn. The base line
// names the provider's search capability and pins the current date so the
// model does not hedge about its knowledge cutoff; the suggestions block is
// appended only when web search is enabled for the turn.
func SystemPrompt(providerLabel string, webSearch bool) string {
	base := fmt.Sprintf(
		"You are a %s search-based chatbot. Always provide the most up-to-date information and cite sources.\nToday is %s",
		providerLabel, time.Now().Format("Jan 2, 2006, 3:04:05 PM (MST)"),
	)
	if !webSearch {
		return base
	}
	return base + "\n" + suggestionsInstructions
}
