package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	HTTPMetrics       middleware.HTTPCollector
	Logger            *slog.Logger

	// 公開エンドポイント
	MetricsHandler http.Handler

	// サービス
	AuthService       AuthServiceInterface
	AuthConfig        AuthHandlerConfig
	UserService       UserServiceInterface
	TeamService       TeamServiceInterface
	MemberService     MembershipServiceInterface
	InvitationService InvitationServiceInterface
	ActivityService   ActivityServiceInterface
	TeamViewer        TeamViewer
	AdminService      AdminServiceInterface
	RoleUpdater       RoleUpdater
	Subscriptions     SubscriptionUpdater
	TeamDeleter       TeamDeleter
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics
//	（認証ルートグループではさらに Session → CSRF → RateLimit(General)）
//
// 認証エンドポイント（/api/auth/*）、/healthz、/metrics は
// セッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	teamHandler := NewTeamHandler(deps.TeamService, deps.MemberService)
	invitationHandler := NewInvitationHandler(deps.InvitationService)
	activityHandler := NewActivityHandler(deps.ActivityService, deps.TeamViewer)
	adminHandler := NewAdminHandler(deps.AdminService, deps.RoleUpdater, deps.Subscriptions, deps.TeamDeleter)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// 認証エンドポイント（セッション未確立でもアクセスできる）
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/signout", authHandler.SignOut)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.UserFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// チーム管理
		r.Route("/api/teams", func(r chi.Router) {
			r.Post("/", teamHandler.Create)
			r.Get("/", teamHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", teamHandler.Get)
				r.Patch("/", teamHandler.Rename)

				// メンバー操作
				r.Post("/members", teamHandler.AddMember)
				r.Route("/members/{userID}", func(r chi.Router) {
					r.Delete("/", teamHandler.RemoveMember)
					r.Patch("/", teamHandler.ChangeMemberRole)
				})

				// 招待（作成には招待専用レート制限を追加）
				if deps.RateLimiter != nil {
					r.With(deps.RateLimiter.InviteMiddleware()).Post("/invitations", invitationHandler.Create)
				} else {
					r.Post("/invitations", invitationHandler.Create)
				}
				r.Get("/invitations", invitationHandler.ListByTeam)

				// アクティビティ
				r.Get("/activity", activityHandler.ListByTeam)
			})
		})

		// 自分宛の招待
		r.Route("/api/invitations", func(r chi.Router) {
			r.Get("/", invitationHandler.ListMine)
			r.Post("/{id}/accept", invitationHandler.Accept)
			r.Post("/{id}/decline", invitationHandler.Decline)
		})

		// ユーザー自身の操作
		r.Route("/api/users/me", func(r chi.Router) {
			r.Patch("/", userHandler.UpdateProfile)
			r.Delete("/", userHandler.DeleteAccount)
			r.Get("/activity", activityHandler.ListMine)
		})

		// 管理画面（ロール検証はサービス層・ハンドラーで行う）
		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/users", adminHandler.ListUsers)
			r.Patch("/users/{id}/role", adminHandler.UpdateUserRole)
			r.Get("/teams", adminHandler.ListTeams)
			r.Get("/teams/by-customer/{customerID}", adminHandler.FindTeamByCustomerID)
			r.Put("/teams/{id}/subscription", adminHandler.UpsertSubscription)
			r.Delete("/teams/{id}", adminHandler.DeleteTeam)
			r.Get("/stats", adminHandler.Stats)
			r.Get("/activity", adminHandler.RecentActivity)
		})
	})

	return r
}
