package mockapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/donaldgifford/automarket/internal/upload"
)

// emulatorMux serves the identity, secure token and storage emulators.
func (s *Server) emulatorMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /identity/v1/accounts:signUp", s.requireKey(s.signUp))
	mux.HandleFunc("POST /identity/v1/accounts:signInWithPassword", s.requireKey(s.signInWithPassword))
	mux.HandleFunc("POST /identity/v1/accounts:signInWithIdp", s.requireKey(s.signInWithIdp))
	mux.HandleFunc("POST /identity/v1/accounts:update", s.requireKey(s.updateAccount))
	mux.HandleFunc("POST /token/v1/token", s.requireKey(s.token))

	mux.HandleFunc("POST /storage/v1/object/{bucket}/{path...}", s.putObject)
	mux.HandleFunc("GET /storage/v1/object/public/{bucket}/{path...}", s.getObject)

	return mux
}

type authResponse struct {
	Kind         string `json:"kind"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	ProviderID   string `json:"providerId,omitempty"`
}

func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != s.apiKey {
			identityError(w, http.StatusBadRequest, "API key not valid. Please pass a valid API key.")
			return
		}
		next(w, r)
	}
}

func identityError(w http.ResponseWriter, status int, msg string) {
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body.Error.Code = status
	body.Error.Message = msg
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) sessionLocked(a *account) (*authResponse, error) {
	tok, err := s.signLocked(a)
	if err != nil {
		return nil, err
	}
	return &authResponse{
		Kind:         "identitytoolkit#VerifyPasswordResponse",
		LocalID:      a.UID,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		IDToken:      tok,
		RefreshToken: s.issueRefreshLocked(a.UID),
		ExpiresIn:    strconv.Itoa(int(s.ttl.Seconds())),
		ProviderID:   a.ProviderID,
	}, nil
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		identityError(w, http.StatusBadRequest, "INVALID_EMAIL")
		return
	case len(req.Password) < 6:
		identityError(w, http.StatusBadRequest, "WEAK_PASSWORD : Password should be at least 6 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[strings.ToLower(req.Email)]; exists {
		identityError(w, http.StatusBadRequest, "EMAIL_EXISTS")
		return
	}

	a := s.addAccountLocked(&account{Email: req.Email, Password: req.Password, ProviderID: "password"})
	res, err := s.sessionLocked(a)
	if err != nil {
		identityError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res.Kind = "identitytoolkit#SignupNewUserResponse"
	s.log.Info("account created", "uid", a.UID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) signInWithPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if req.Password == "" {
		identityError(w, http.StatusBadRequest, "MISSING_PASSWORD")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[s.emails[strings.ToLower(req.Email)]]
	if !ok || a.Password != req.Password {
		identityError(w, http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS")
		return
	}
	if a.Disabled {
		identityError(w, http.StatusBadRequest, "USER_DISABLED")
		return
	}

	res, err := s.sessionLocked(a)
	if err != nil {
		identityError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) signInWithIdp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostBody   string `json:"postBody"`
		RequestURI string `json:"requestUri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	form, err := url.ParseQuery(req.PostBody)
	if err != nil || form.Get("id_token") == "" || form.Get("providerId") == "" {
		identityError(w, http.StatusBadRequest, "INVALID_IDP_RESPONSE")
		return
	}

	// The storefront verified the token already; only its claims are needed.
	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(form.Get("id_token"), &claims); err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_IDP_RESPONSE : "+err.Error())
		return
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if email == "" {
		identityError(w, http.StatusBadRequest, "INVALID_IDP_RESPONSE : missing email")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[s.emails[strings.ToLower(email)]]
	if !ok {
		a = s.addAccountLocked(&account{Email: email, DisplayName: name, ProviderID: form.Get("providerId")})
	}
	if a.Disabled {
		identityError(w, http.StatusBadRequest, "USER_DISABLED")
		return
	}

	res, err := s.sessionLocked(a)
	if err != nil {
		identityError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res.ProviderID = form.Get("providerId")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken     string `json:"idToken"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	a, err := s.principal("Bearer " + req.IDToken)
	if err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_ID_TOKEN")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.accounts[a.UID]
	stored.DisplayName = req.DisplayName
	res, err := s.sessionLocked(stored)
	if err != nil {
		identityError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		identityError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		identityError(w, http.StatusBadRequest, "INVALID_GRANT_TYPE")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uid, ok := s.refresh[r.PostForm.Get("refresh_token")]
	if !ok {
		identityError(w, http.StatusBadRequest, "INVALID_REFRESH_TOKEN")
		return
	}
	a, ok := s.accounts[uid]
	if !ok {
		identityError(w, http.StatusBadRequest, "USER_NOT_FOUND")
		return
	}
	if a.Disabled {
		identityError(w, http.StatusBadRequest, "USER_DISABLED")
		return
	}

	tok, err := s.signLocked(a)
	if err != nil {
		identityError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id_token":      tok,
		"refresh_token": r.PostForm.Get("refresh_token"),
		"expires_in":    strconv.Itoa(int(s.ttl.Seconds())),
		"token_type":    "Bearer",
		"user_id":       uid,
	})
}

type storageError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != s.apiKey {
		writeJSON(w, http.StatusUnauthorized, storageError{"401", "Unauthorized", "Invalid API key"})
		return
	}
	bucket, path := r.PathValue("bucket"), r.PathValue("path")
	if bucket != s.bucket {
		writeJSON(w, http.StatusBadRequest, storageError{"404", "Bucket not found", "Bucket not found"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, upload.MaxImageBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, storageError{"400", "Bad Request", err.Error()})
		return
	}
	if len(data) > upload.MaxImageBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, storageError{"413", "Payload too large", "The object exceeded the maximum allowed size"})
		return
	}

	key := bucket + "/" + path
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists && r.Header.Get("x-upsert") != "true" {
		writeJSON(w, http.StatusBadRequest, storageError{"409", "Duplicate", "The resource already exists"})
		return
	}
	s.objects[key] = object{ContentType: r.Header.Get("Content-Type"), Data: data}

	writeJSON(w, http.StatusOK, map[string]string{"Key": key})
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("bucket") + "/" + r.PathValue("path")

	s.mu.Lock()
	o, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, storageError{"404", "not_found", "Object not found"})
		return
	}
	w.Header().Set("Content-Type", o.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(o.Data)))
	_, _ = w.Write(o.Data)
}
