// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package api_test

import (
	"net/http"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

var _ = Describe("Account lifecycle", func() {
	BeforeEach(func() {
		env.truncate()
	})

	Describe("signup and verification", func() {
		It("persists an unverified account and verifies it with the mailed code", func() {
			r := call(http.MethodPost, "/api/auth/signup", "", map[string]string{
				"username": "alice", "email": "Alice@Example.com", "password": "correct-horse",
			})
			Expect(r.Status).To(Equal(http.StatusCreated))

			acct, err := env.Accounts.GetByEmail(env.ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(acct.EmailVerified).To(BeFalse())

			code := env.Notifier.LastCode("alice@example.com")
			r = call(http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"email": "alice@example.com", "code": code})
			Expect(r.Status).To(Equal(http.StatusOK))
			Expect(r.str("accessToken")).NotTo(BeEmpty())

			acct, err = env.Accounts.GetByEmail(env.ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(acct.EmailVerified).To(BeTrue())

			By("rejecting the same code a second time")
			r = call(http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"email": "alice@example.com", "code": code})
			Expect(r.Status).To(Equal(http.StatusBadRequest))
			Expect(r.str("error")).To(Equal("Invalid or expired OTP"))
		})

		It("rejects a duplicate email or username", func() {
			signupVerified("bob", "bob@example.com", "hunter2hunter2")

			r := call(http.MethodPost, "/api/auth/signup", "", map[string]string{
				"username": "bob", "email": "other@example.com", "password": "hunter2hunter2",
			})
			Expect(r.Status).To(Equal(http.StatusConflict))
			Expect(r.str("error")).To(Equal("Email or username already taken"))
		})
	})

	Describe("sessions", func() {
		It("revokes refresh tokens on logout and rotation", func() {
			access, refresh := signupVerified("carol", "carol@example.com", "s3cret-pass")

			r := call(http.MethodGet, "/api/auth/me", access, nil)
			Expect(r.Status).To(Equal(http.StatusOK))

			r = call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
			Expect(r.Status).To(Equal(http.StatusOK))
			rotated := r.str("refreshToken")

			By("refusing the rotated-out token")
			r = call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
			Expect(r.Status).To(Equal(http.StatusUnauthorized))
			Expect(r.str("error")).To(Equal("Token has been revoked"))

			r = call(http.MethodPost, "/api/auth/logout", access, map[string]string{"refreshToken": rotated})
			Expect(r.Status).To(Equal(http.StatusOK))

			r = call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": rotated})
			Expect(r.Status).To(Equal(http.StatusUnauthorized))
		})

		It("revokes every refresh token on logout from all devices", func() {
			access, refresh := signupVerified("dave", "dave@example.com", "s3cret-pass")

			r := call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "dave@example.com", "password": "s3cret-pass"})
			Expect(r.Status).To(Equal(http.StatusOK))
			second := r.str("refreshToken")

			r = call(http.MethodPost, "/api/auth/logout/all", access, nil)
			Expect(r.Status).To(Equal(http.StatusOK))

			for _, tok := range []string{refresh, second} {
				r = call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": tok})
				Expect(r.Status).To(Equal(http.StatusUnauthorized))
			}
		})
	})

	Describe("password reset", func() {
		It("replaces the password with a reset code", func() {
			signupVerified("erin", "erin@example.com", "old-password")

			r := call(http.MethodPost, "/api/auth/password/forgot", "", map[string]string{"email": "erin@example.com"})
			Expect(r.Status).To(Equal(http.StatusOK))
			code := env.Notifier.LastCode("erin@example.com")

			r = call(http.MethodPost, "/api/auth/password/reset", "", map[string]string{
				"email": "erin@example.com", "code": code, "newPassword": "new-password",
			})
			Expect(r.Status).To(Equal(http.StatusOK))

			r = call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "erin@example.com", "password": "old-password"})
			Expect(r.Status).To(Equal(http.StatusUnauthorized))
			r = call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "erin@example.com", "password": "new-password"})
			Expect(r.Status).To(Equal(http.StatusOK))

			r = call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": r.str("refreshToken")})
			Expect(r.Status).To(Equal(http.StatusOK))
		})

		It("answers identically for unknown emails", func() {
			r := call(http.MethodPost, "/api/auth/password/forgot", "", map[string]string{"email": "nobody@example.com"})
			Expect(r.Status).To(Equal(http.StatusOK))
			Expect(r.str("message")).To(Equal("If the email exists, a password reset OTP has been sent."))
		})
	})

	Describe("administration", func() {
		var adminToken string

		BeforeEach(func() {
			signupVerified("root", "root@example.com", "admin-password")
			acct, err := env.Accounts.GetByEmail(env.ctx, "root@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Accounts.UpdateRole(env.ctx, acct.ID, auth.RoleAdmin)).To(Succeed())

			r := call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "root@example.com", "password": "admin-password"})
			Expect(r.Status).To(Equal(http.StatusOK))
			adminToken = r.str("accessToken")
		})

		It("lists users, changes roles and reports statistics", func() {
			userAccess, _ := signupVerified("frank", "frank@example.com", "user-password")
			frank, err := env.Accounts.GetByEmail(env.ctx, "frank@example.com")
			Expect(err).NotTo(HaveOccurred())

			r := call(http.MethodGet, "/api/admin/users", userAccess, nil)
			Expect(r.Status).To(Equal(http.StatusForbidden))

			r = call(http.MethodGet, "/api/admin/users", adminToken, nil)
			Expect(r.Status).To(Equal(http.StatusOK))
			Expect(r.Body["total"]).To(BeNumerically("==", 2))

			r = call(http.MethodPatch, "/api/admin/users/"+frank.ID.String()+"/role", adminToken, map[string]string{"role": "moderator"})
			Expect(r.Status).To(Equal(http.StatusOK))

			frank, err = env.Accounts.GetByEmail(env.ctx, "frank@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(frank.Role).To(Equal(auth.RoleModerator))

			r = call(http.MethodGet, "/api/admin/stats", adminToken, nil)
			Expect(r.Status).To(Equal(http.StatusOK))
			stats, ok := r.Body["stats"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(stats["totalUsers"]).To(BeNumerically("==", 2))
			Expect(stats["recentRegistrations"]).To(BeNumerically("==", 2))

			r = call(http.MethodPost, "/api/auth/password/forgot", "", map[string]string{"email": "frank@example.com"})
			Expect(r.Status).To(Equal(http.StatusOK))
			r = call(http.MethodGet, "/api/admin/otps", adminToken, nil)
			Expect(r.Status).To(Equal(http.StatusOK))
			Expect(r.Body["total"]).To(BeNumerically("==", 1))
		})

		It("deletes users and reports unknown ids", func() {
			signupVerified("gina", "gina@example.com", "user-password")
			gina, err := env.Accounts.GetByEmail(env.ctx, "gina@example.com")
			Expect(err).NotTo(HaveOccurred())

			r := call(http.MethodDelete, "/api/admin/users/"+gina.ID.String(), adminToken, nil)
			Expect(r.Status).To(Equal(http.StatusOK))
			Expect(r.str("userId")).To(Equal(gina.ID.String()))

			r = call(http.MethodGet, "/api/admin/users/"+gina.ID.String(), adminToken, nil)
			Expect(r.Status).To(Equal(http.StatusNotFound))

			r = call(http.MethodGet, "/api/admin/users/"+ulid.Make().String(), adminToken, nil)
			Expect(r.Status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("reaping", func() {
		It("removes only expired passcodes", func() {
			signupVerified("hank", "hank@example.com", "user-password")
			signupVerified("ivy", "ivy@example.com", "user-password")
			for _, email := range []string{"hank@example.com", "ivy@example.com"} {
				r := call(http.MethodPost, "/api/auth/password/forgot", "", map[string]string{"email": email})
				Expect(r.Status).To(Equal(http.StatusOK))
			}
			hank, err := env.Accounts.GetByEmail(env.ctx, "hank@example.com")
			Expect(err).NotTo(HaveOccurred())
			_, err = env.pool.Exec(env.ctx,
				`UPDATE one_time_passcodes SET expires_at = now() - interval '1 minute' WHERE account_id = $1`,
				hank.ID.String())
			Expect(err).NotTo(HaveOccurred())

			n, err := env.OTPs.Reap(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNumerically("==", 1))

			By("leaving the live passcode redeemable")
			r := call(http.MethodPost, "/api/auth/password/reset", "", map[string]string{
				"email": "ivy@example.com", "code": env.Notifier.LastCode("ivy@example.com"), "newPassword": "another-password",
			})
			Expect(r.Status).To(Equal(http.StatusOK))

			n, err = env.Ledger.Reap(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
