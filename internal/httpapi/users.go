package httpapi

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/internal/store"
	"github.com/nocturnelabs/token-server/pkg/field"
)

// HandleCreateUser handles POST /create_user (admin only).
func (s *Server) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, apiErr := s.requireAdmin(r); apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	// an absent password leaves the zero value; NewUser then generates one
	var password *field.Password
	if req.Auth.Password.String() != "" {
		password = &req.Auth.Password
	}
	user, err := store.NewUser(req.Auth.Username, password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "User creation failed")
		return
	}
	if err := s.Users.Add(r.Context(), user); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("username", req.Auth.Username.String()).Msg("user creation failed")
		writeError(w, r, http.StatusInternalServerError, "User creation failed")
		return
	}

	log.Ctx(r.Context()).Info().Str("username", user.Username.String()).Msg("user created")
	writeJSON(w, http.StatusCreated, messageResponse{Message: "ok. created the user."})
}

// HandleUpdateUser handles POST /update_user: any authenticated user
// may change their own username and/or password, except that the admin
// record's username is immutable.
func (s *Server) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	_, user, apiErr := s.verifyBearer(r)
	if apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	if user.Username.String() == store.AdminUsername && req.Auth.Username != nil {
		writeError(w, r, http.StatusBadRequest, "Changing the admin name 'admin' is not allowed.")
		return
	}

	err := s.Users.Update(r.Context(), user.SubscriberID, req.Auth.Username, req.Auth.Password)
	if err != nil {
		if errors.Is(err, store.ErrNothingToDo) {
			writeError(w, r, http.StatusBadRequest, "Invalid request")
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("user update failed")
		writeError(w, r, http.StatusInternalServerError, "User update failed")
		return
	}

	log.Ctx(r.Context()).Info().Str("sub", user.SubscriberID.String()).Msg("user updated")
	writeJSON(w, http.StatusOK, messageResponse{Message: "ok. updated the user."})
}

// HandleDeleteUser handles POST /delete_user (admin only). The admin
// can delete neither themselves nor the reserved "admin" record.
func (s *Server) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, apiErr := s.requireAdmin(r)
	if apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	var req deleteUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	target, err := s.Users.FindByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "User deletion failed")
		return
	}
	if target == nil {
		writeError(w, r, http.StatusBadRequest, "No such user")
		return
	}
	if target.Username == caller.Username || target.Username.String() == store.AdminUsername {
		writeError(w, r, http.StatusBadRequest, "Delete prohibited user")
		return
	}

	if err := s.Users.Delete(r.Context(), req.Username); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("user deletion failed")
		writeError(w, r, http.StatusInternalServerError, "User deletion failed")
		return
	}

	log.Ctx(r.Context()).Info().Str("username", req.Username.String()).Msg("user deleted")
	writeJSON(w, http.StatusOK, messageResponse{Message: "ok. deleted the user."})
}

// HandleListUsers handles POST /list_users (admin only), paginated
// with a fixed page size.
func (s *Server) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, apiErr := s.requireAdmin(r); apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	var req listUsersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}
	page := 1
	if req.Page != nil {
		page = *req.Page
	}

	users, totalPages, totalUsers, err := s.Users.List(r.Context(), page)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPage) {
			writeError(w, r, http.StatusBadRequest, "Invalid request")
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("user listing failed")
		writeError(w, r, http.StatusInternalServerError, "User listing failed")
		return
	}

	summaries := make([]userSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, userSummary{
			Username:     u.Username.String(),
			SubscriberID: u.SubscriberID.String(),
			IsAdmin:      u.IsAdmin,
		})
	}
	writeJSON(w, http.StatusOK, listUsersResponse{
		Users:      summaries,
		Page:       page,
		TotalPages: totalPages,
		TotalUsers: totalUsers,
		Message:    "Success",
	})
}
