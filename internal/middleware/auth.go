package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/store"
)

const (
	HeaderFamilyID   = "X-Family-ID"
	HeaderMemberID   = "X-Member-ID"
	HeaderMemberRole = "X-Member-Role"
	HeaderMemberPIN  = "X-Member-PIN"
)

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// RequireIdentity reads the gateway identity headers, checks the member
// against the family directory and populates auth.Identity. The role comes
// from the directory; a conflicting X-Member-Role header is rejected.
func RequireIdentity(families *store.FamilyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			familyID, err1 := strconv.ParseInt(r.Header.Get(HeaderFamilyID), 10, 64)
			memberID, err2 := strconv.ParseInt(r.Header.Get(HeaderMemberID), 10, 64)
			if err1 != nil || err2 != nil || familyID <= 0 || memberID <= 0 {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid identity headers")
				return
			}

			member, err := families.GetMember(r.Context(), memberID)
			if err != nil {
				logger.Error("load member", "member_id", memberID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "failed to load member")
				return
			}
			if member == nil || member.FamilyID != familyID {
				writeError(w, http.StatusForbidden, "member_not_owned", "member does not belong to family")
				return
			}
			if role := r.Header.Get(HeaderMemberRole); role != "" && role != member.Role {
				writeError(w, http.StatusForbidden, "member_not_allowed", "role does not match member")
				return
			}

			ctx := auth.WithIdentity(r.Context(), auth.Identity{
				FamilyID: familyID,
				MemberID: memberID,
				Role:     member.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwner checks that the identified member is a family owner.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsOwner(r.Context()) {
			writeError(w, http.StatusForbidden, "member_not_allowed", "owner role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePIN guards spending routes. Members without a PIN pass through;
// members with one must send it in X-Member-PIN.
func RequirePIN(families *store.FamilyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hash, err := families.GetPINHash(r.Context(), auth.MemberID(r.Context()))
			if err != nil {
				logger.Error("load pin", "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "failed to load member")
				return
			}
			if hash != "" {
				pin := r.Header.Get(HeaderMemberPIN)
				if pin == "" {
					writeError(w, http.StatusUnauthorized, "pin_required", "PIN required")
					return
				}
				if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
					writeError(w, http.StatusUnauthorized, "pin_incorrect", "incorrect PIN")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
