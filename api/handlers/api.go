package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/api"
	"github.com/openblood/bloodlink-api/api/scheduler"
	"github.com/openblood/bloodlink-api/config"
	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/matching"
	"github.com/openblood/bloodlink-api/models"
	"github.com/openblood/bloodlink-api/notifications"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Scheduler *scheduler.Scheduler
	dbHelper  databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewHospitalDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	alertDB := databases.NewAlertDatabase(a.dbHelper)
	donorDB := databases.NewDonorDatabase(a.dbHelper)
	hospitalDB := databases.NewHospitalDatabase(a.dbHelper)
	tokenDB := databases.NewPushTokenDatabase(a.dbHelper)

	hub := NewAlertHub()
	matcher := matching.NewService(donorDB)
	dispatcher := notifications.NewDispatcher(
		notifications.NewSendGridSender(a.Config.SendgridAPIKey),
		notifications.NewTwilioSender(a.Config.TwilioSID, a.Config.TwilioToken, a.Config.TwilioFrom),
		notifications.NewExpoPushSender(tokenDB),
	)

	al := Alert{DB: alertDB, HDB: hospitalDB, DDB: donorDB, Matcher: matcher, Dispatcher: dispatcher, Hub: hub}
	d := Donor{DB: donorDB, TokenDB: tokenDB}
	h := Hospital{DB: hospitalDB, Alerts: al}
	adm := Admin{DB: databases.NewAdminDatabase(a.dbHelper), Alerts: al}

	a.Scheduler = scheduler.NewScheduler(alertDB, hospitalDB, databases.NewSchedulerLockDatabase(a.dbHelper), matcher, dispatcher)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	// The websocket route stays off this subrouter so long-lived
	// connections are not cut by the request timeout
	apiCreate.Use(api.TimeoutMiddleware(30 * time.Second))

	apiCreate.Handle("/auth/token", api.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/alert", api.Middleware(http.HandlerFunc(al.CreateAlertHandler))).Methods("POST")
	apiCreate.Handle("/alerts", api.Middleware(http.HandlerFunc(al.AlertsHandler))).Methods("GET")
	apiCreate.Handle("/alert/{alert_id}", api.Middleware(http.HandlerFunc(al.AlertByIDHandler))).Methods("GET")
	apiCreate.Handle("/alert/{alert_id}/status", api.Middleware(http.HandlerFunc(al.UpdateAlertStatusHandler))).Methods("PATCH")
	apiCreate.Handle("/alert/{alert_id}/extend", api.Middleware(http.HandlerFunc(al.ExtendAlertHandler))).Methods("POST")
	apiCreate.Handle("/alert/{alert_id}/metrics", api.Middleware(http.HandlerFunc(al.AlertMetricsHandler))).Methods("GET")
	apiCreate.Handle("/alert/{alert_id}/share", api.Middleware(http.HandlerFunc(al.ShareAlertHandler))).Methods("POST")
	apiCreate.Handle("/alert/{alert_id}/share-response", api.Middleware(http.HandlerFunc(al.ShareResponseHandler))).Methods("POST")

	// donor-facing routes, reached from notification deep links
	apiCreate.Handle("/alert/{alert_id}/respond", http.HandlerFunc(al.RespondToAlertHandler)).Methods("POST")
	apiCreate.Handle("/alert/{alert_id}/notifications/{donor_id}/opened", http.HandlerFunc(al.NotificationOpenedHandler)).Methods("POST")
	apiCreate.Handle("/alerts/match/{donor_id}", http.HandlerFunc(al.AlertsForDonorHandler)).Methods("GET")

	apiCreate.Handle("/donor", http.HandlerFunc(d.CreateDonorHandler)).Methods("POST")
	apiCreate.Handle("/donor/{donor_id}", api.Middleware(http.HandlerFunc(d.DonorByIDHandler))).Methods("GET")
	apiCreate.Handle("/donor/{donor_id}", api.Middleware(http.HandlerFunc(d.UpdateDonorHandler))).Methods("PUT")
	apiCreate.Handle("/donor/{donor_id}/eligibility", api.Middleware(http.HandlerFunc(d.DonorEligibilityHandler))).Methods("GET")
	apiCreate.Handle("/donor/{donor_id}/push-token", http.HandlerFunc(d.RegisterPushTokenHandler)).Methods("POST")

	apiCreate.Handle("/hospital", http.HandlerFunc(h.CreateHospitalHandler)).Methods("POST")
	apiCreate.Handle("/hospital/{hospital_id}", api.Middleware(http.HandlerFunc(h.HospitalByIDHandler))).Methods("GET")
	apiCreate.Handle("/hospital/{hospital_id}", api.Middleware(http.HandlerFunc(h.UpdateHospitalHandler))).Methods("PUT")
	apiCreate.Handle("/hospital/{hospital_id}/inventory", api.Middleware(http.HandlerFunc(h.HospitalInventoryHandler))).Methods("GET")
	apiCreate.Handle("/hospital/{hospital_id}/inventory/{blood_type}", api.Middleware(http.HandlerFunc(h.UpdateInventoryHandler))).Methods("PUT")
	apiCreate.Handle("/hospital/{hospital_id}/partnerships", api.Middleware(http.HandlerFunc(h.CreatePartnershipHandler))).Methods("POST")

	apiCreate.Handle("/admin/login", http.HandlerFunc(adm.AdminLoginHandler)).Methods("POST")
	apiCreate.Handle("/admin/alert/{alert_id}/status", http.HandlerFunc(adm.AdminOverrideAlertStatusHandler)).Methods("PUT")

	r.HandleFunc("/ws/alerts", hub.HandleAlertsWebSocket)

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("bloodlink-api has connected to the database")

	// initialize api router
	a.initializeRoutes()

	// start the expiry sweep and inventory check jobs
	a.Scheduler.Start()
	return nil

}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
