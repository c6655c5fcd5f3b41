package api

import (
	"net/http"

	"depot/internal/apperrors"
	"depot/internal/naturallanguage"
)

// naturalLanguageResponse is a language enriched with what the depot holds for it.
type naturalLanguageResponse struct {
	Code string `json:"code"`
	naturallanguage.NaturalLanguage
	HasLocalizationMessages bool `json:"hasLocalizationMessages"`
	HasData                 bool `json:"hasData"`
}

type naturalLanguagesResponse struct {
	NaturalLanguages []naturalLanguageResponse `json:"naturalLanguages"`
}

type codesResponse struct {
	Codes []string `json:"codes"`
}

type messagesResponse struct {
	NaturalLanguageCode string            `json:"naturalLanguageCode"`
	Messages            map[string]string `json:"messages"`
}

type matchResponse struct {
	Code string `json:"code"`
}

// ListNaturalLanguages handles GET /v1/naturallanguages
func (h *Handler) ListNaturalLanguages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	languages, err := h.languages.GetAllNaturalLanguages(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	withMessages, err := h.languages.FindNaturalLanguagesWithLocalizationMessages(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	withData, err := h.languages.FindNaturalLanguagesWithData(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := naturalLanguagesResponse{NaturalLanguages: make([]naturalLanguageResponse, 0, len(languages))}
	for _, nl := range languages {
		resp.NaturalLanguages = append(resp.NaturalLanguages, naturalLanguageResponse{
			Code:                    nl.Code(),
			NaturalLanguage:         nl,
			HasLocalizationMessages: withMessages.Contains(nl.Coordinates),
			HasData:                 withData.Contains(nl.Coordinates),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListLocalizedNaturalLanguages handles GET /v1/naturallanguages/localized
func (h *Handler) ListLocalizedNaturalLanguages(w http.ResponseWriter, r *http.Request) {
	set, err := h.languages.FindNaturalLanguagesWithLocalizationMessages(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, codesOf(set))
}

// ListNaturalLanguagesWithData handles GET /v1/naturallanguages/data
func (h *Handler) ListNaturalLanguagesWithData(w http.ResponseWriter, r *http.Request) {
	set, err := h.languages.FindNaturalLanguagesWithData(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, codesOf(set))
}

// GetLocalizationMessages handles GET /v1/naturallanguages/{code}/messages
func (h *Handler) GetLocalizationMessages(w http.ResponseWriter, r *http.Request) {
	coords, err := naturallanguage.ParseCode(r.PathValue("code"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	bundle, err := h.languages.GetAllLocalizationMessages(r.Context(), coords)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messagesResponse{NaturalLanguageCode: coords.Code(), Messages: bundle.Map()})
}

// MatchNaturalLanguage handles GET /v1/naturallanguages/match?code=
// It responds with the closest supported language for the code.
func (h *Handler) MatchNaturalLanguage(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	target, err := naturallanguage.ParseCode(code)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	supported, err := h.languages.GetAllSupportedCoordinates(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	match, ok := naturallanguage.TryGetBestMatchFromList(supported, target)
	if !ok {
		h.handleError(w, r, apperrors.NotFound("natural language match for", code))
		return
	}
	h.writeJSON(w, http.StatusOK, matchResponse{Code: match.Code()})
}

func codesOf(set naturallanguage.Set) codesResponse {
	sorted := set.Sorted()
	resp := codesResponse{Codes: make([]string, len(sorted))}
	for i, c := range sorted {
		resp.Codes[i] = c.Code()
	}
	return resp
}
