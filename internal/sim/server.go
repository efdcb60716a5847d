package sim

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gocomet/rider-app/internal/restapi"
	"github.com/gocomet/rider-app/internal/wire"
	"github.com/gocomet/rider-app/pkg/logger"
)

// Server is the simulator's HTTP surface: the socket endpoint, the REST
// API the client consumes, and a few dev controls.
type Server struct {
	world  *World
	bot    *Bot
	hub    *Hub
	logger *logger.Logger
}

// NewServer wires world, bot and hub together.
func NewServer(world *World, bot *Bot, log *logger.Logger) *Server {
	s := &Server{world: world, bot: bot, logger: log}
	s.hub = NewHub(bot.HandleEvent, log)
	bot.BindHub(s.hub)
	return s
}

// Hub exposes the peer registry, mainly for tests and dev controls.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": s.hub.ActivePeers()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", s.handleSocket)
		v1.GET("/services", s.handleServices)
		v1.POST("/fares/quote", s.handleFareQuote)
		v1.POST("/auth/refresh", s.handleTokenRefresh)
		v1.GET("/rides/:id", s.handleRideByID)

		riders := v1.Group("/riders/:id")
		{
			riders.GET("/rides/active", s.handleActiveRide)
			riders.GET("/status", s.handleStatus)
			riders.GET("/profile", s.handleProfile)
			riders.POST("/block", s.handleBlock)
		}
	}
	return router
}

func (s *Server) handleSocket(c *gin.Context) {
	userID := c.Query(wire.ParamUserID)
	userType := c.Query(wire.ParamUserType)
	if userID == "" || userType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "userId and userType are required"})
		return
	}

	upgrader := gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Socket upgrade failed", logger.Err(err))
		return
	}

	s.hub.Attach(conn, userID, userType)
}

func (s *Server) handleActiveRide(c *gin.Context) {
	r := s.world.ActiveRide(c.Param("id"))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "no active ride"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleRideByID(c *gin.Context) {
	r := s.world.RideByID(c.Param("id"))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "ride not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

var catalogue = []restapi.VehicleService{
	{ID: "mini", Name: "Mini", BaseFare: 40, PerKM: 11, Capacity: 3},
	{ID: "sedan", Name: "Sedan", BaseFare: 60, PerKM: 14, Capacity: 4},
	{ID: "suv", Name: "SUV", BaseFare: 90, PerKM: 19, Capacity: 6},
	{ID: "auto", Name: "Auto", BaseFare: 25, PerKM: 9, Capacity: 3},
}

func (s *Server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": catalogue})
}

func (s *Server) handleFareQuote(c *gin.Context) {
	var req restapi.FareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	var svc *restapi.VehicleService
	for i := range catalogue {
		if catalogue[i].ID == req.Service {
			svc = &catalogue[i]
			break
		}
	}
	if svc == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "unknown service"})
		return
	}

	distance := haversineKM(req.Pickup.Latitude, req.Pickup.Longitude, req.Dropoff.Latitude, req.Dropoff.Longitude)
	c.JSON(http.StatusOK, restapi.FareQuote{
		Service:         svc.ID,
		Fare:            math.Round((svc.BaseFare+svc.PerKM*distance)*100) / 100,
		DistanceKM:      math.Round(distance*10) / 10,
		DurationMinutes: int(distance/0.5) + 3,
		SurgeMultiplier: 1.0,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	reason, blocked := s.world.BlockedReason(c.Param("id"))
	c.JSON(http.StatusOK, restapi.AccountStatus{Blocked: blocked, Reason: reason})
}

func (s *Server) handleProfile(c *gin.Context) {
	riderID := c.Param("id")
	c.JSON(http.StatusOK, restapi.Profile{
		ID:          riderID,
		Name:        "Demo Rider",
		PhoneNumber: "+919900000000",
	})
}

func (s *Server) handleTokenRefresh(c *gin.Context) {
	c.JSON(http.StatusOK, restapi.TokenRefresh{
		Token:  uuid.NewString(),
		Expiry: time.Now().Add(time.Hour),
	})
}

// handleBlock is a dev control: POST to mark a rider blocked so the
// client's revalidation path can be demonstrated.
func (s *Server) handleBlock(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "blocked by dev control"
	}
	s.world.Block(c.Param("id"), body.Reason)
	c.JSON(http.StatusOK, gin.H{"blocked": true})
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
