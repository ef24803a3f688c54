package integrations

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"medquote/internal/auth"
	"medquote/internal/cache"
	"medquote/internal/config"
	"medquote/internal/db"
	"medquote/internal/events"
	"medquote/internal/geo"
	"medquote/internal/kafka"
	"medquote/internal/models"
	"medquote/internal/processor"
	"medquote/internal/repository"
	"medquote/internal/server"
	"medquote/internal/service"
	"medquote/internal/storage"
)

// IntegrationSuite drives the HTTP API end to end. It runs against the
// memory store, or against postgres when TEST_DSN is set.
type IntegrationSuite struct {
	suite.Suite

	database *sql.DB
	store    repository.Store
	server   *httptest.Server
}

func (suite *IntegrationSuite) SetupTest() {
	ctx := context.Background()
	if dsn := os.Getenv("TEST_DSN"); dsn != "" {
		if suite.database == nil {
			database, err := db.NewDB(ctx, dsn)
			suite.Require().NoError(err)
			suite.database = database
		}
		_, err := suite.database.Exec("TRUNCATE users, medicine_requests, quotes, tasks, audit_logs CASCADE")
		suite.Require().NoError(err)
		suite.store = repository.NewPostgresStore(suite.database)
	} else {
		st, err := storage.New("")
		suite.Require().NoError(err)
		suite.store = st
	}

	deps := service.Deps{
		Store:      suite.store,
		Pharmacies: cache.NewPharmacyCache(suite.store),
		Geocoder: geo.NewStaticGeocoder(map[string]geo.Point{
			"Kasr El Nil 10": {Lat: 30.0450, Lon: 31.2400},
		}),
	}
	srv := server.NewServer(server.Services{
		Auth:       auth.New(suite.store, auth.Config{SigningKey: "integration", Issuer: "medquote", TTL: time.Hour, BcryptCost: bcrypt.MinCost}),
		Customers:  service.NewCustomerService(deps),
		Pharmacies: service.NewPharmacyService(deps),
		Operator:   service.NewOperatorService(deps),
	}, &config.Config{Username: testUsername, Password: testPassword})
	suite.server = httptest.NewServer(srv.Router())
}

func (suite *IntegrationSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *IntegrationSuite) TearDownSuite() {
	if suite.database != nil {
		_ = suite.database.Close()
	}
}

type loginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (suite *IntegrationSuite) registerCustomer(email string) string {
	lat, lon := 30.0444, 31.2357
	suite.expect(call{method: http.MethodPost, path: "/auth/register/customer", body: auth.CustomerRegistration{
		Email: email, Password: "password1", FullName: "Customer " + email, Phone: "+20111",
		Address: "Tahrir Square", Latitude: &lat, Longitude: &lon,
	}}, http.StatusCreated, nil)
	return suite.login(email, models.UserTypeCustomer)
}

// registerPharmacy registers a pharmacy dLat degrees north of the customers
// and verifies it through the admin API.
func (suite *IntegrationSuite) registerPharmacy(email string, dLat float64) string {
	var p models.Pharmacy
	suite.expect(call{method: http.MethodPost, path: "/auth/register/pharmacy", body: auth.PharmacyRegistration{
		Email: email, Password: "password1", FullName: "Owner", PharmacyName: "Pharmacy " + email,
		LicenseNumber: "LIC-" + email, Address: "Cairo", Latitude: 30.0444 + dLat, Longitude: 31.2357,
		OperatingHours: "9-21",
	}}, http.StatusCreated, &p)
	suite.False(p.Verified)
	suite.expect(call{method: http.MethodPut, path: "/admin/pharmacies/" + p.ID + "/verify", basic: true}, http.StatusOK, &p)
	suite.True(p.Verified)
	return suite.login(email, models.UserTypePharmacy)
}

func (suite *IntegrationSuite) login(email string, role models.UserType) string {
	var res loginResult
	suite.expect(call{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": email, "password": "password1", "user_type": string(role),
	}}, http.StatusOK, &res)
	suite.Require().NotEmpty(res.Token)
	return res.Token
}

func (suite *IntegrationSuite) createRequest(token string) models.MedicineRequest {
	var r models.MedicineRequest
	suite.expect(call{method: http.MethodPost, path: "/requests", token: token, body: map[string]interface{}{
		"medicines": []models.Medicine{{Name: "Amoxicillin", Dosage: "250mg", Quantity: 2}},
		"radius":    5,
	}}, http.StatusCreated, &r)
	return r
}

func quoteBody(delivery, pickup string) map[string]string {
	return map[string]string{
		"delivery_price": delivery, "pickup_price": pickup, "estimated_delivery_time": "1 hour",
	}
}

func (suite *IntegrationSuite) submitQuote(token, requestID, delivery, pickup string) models.Quote {
	var q models.Quote
	suite.expect(call{method: http.MethodPost, path: "/pharmacy/requests/" + requestID + "/quotes", token: token,
		body: quoteBody(delivery, pickup)}, http.StatusCreated, &q)
	return q
}

func (suite *IntegrationSuite) TestQuoteLifecycle() {
	customer := suite.registerCustomer("mona@example.com")
	nile := suite.registerPharmacy("nile@example.com", 0.01)
	delta := suite.registerPharmacy("delta@example.com", 0.02)

	r := suite.createRequest(customer)
	suite.Equal(models.RequestStatusPending, r.Status)
	suite.Equal([]string{"Amoxicillin 250mg x2"}, r.ManualMedicines)

	var feed []service.VisibleRequest
	suite.expect(call{method: http.MethodGet, path: "/pharmacy/requests", token: nile}, http.StatusOK, &feed)
	suite.Require().Len(feed, 1)
	suite.Equal(r.ID, feed[0].ID)

	q1 := suite.submitQuote(nile, r.ID, "250", "200")
	q2 := suite.submitQuote(delta, r.ID, "180", "150")
	suite.expectKind(call{method: http.MethodPost, path: "/pharmacy/requests/" + r.ID + "/quotes", token: nile,
		body: quoteBody("240", "190")}, http.StatusConflict, "DuplicateQuote")

	var quotes []models.Quote
	suite.expect(call{method: http.MethodGet, path: "/requests/" + r.ID + "/quotes", token: customer}, http.StatusOK, &quotes)
	suite.Require().Len(quotes, 2)
	suite.Equal(q2.ID, quotes[0].ID)
	suite.Require().NotNil(quotes[0].Pharmacy)

	var accepted models.MedicineRequest
	suite.expect(call{method: http.MethodPost, path: "/quotes/" + q1.ID + "/accept", token: customer,
		body: map[string]string{"channel": "delivery"}}, http.StatusOK, &accepted)
	suite.Equal(models.RequestStatusAccepted, accepted.Status)
	suite.Equal(q1.ID, accepted.AcceptedQuoteID)
	suite.Equal("250", accepted.AgreedPrice.Decimal.String())

	suite.expectKind(call{method: http.MethodPost, path: "/quotes/" + q2.ID + "/accept", token: customer,
		body: map[string]string{"channel": "pickup"}}, http.StatusConflict, "InvalidStateTransition")
	suite.expectKind(call{method: http.MethodPost, path: "/pharmacy/requests/" + r.ID + "/quotes", token: delta,
		body: quoteBody("100", "90")}, http.StatusConflict, "RequestNotQuotable")

	suite.expect(call{method: http.MethodGet, path: "/requests/" + r.ID + "/quotes", token: customer}, http.StatusOK, &quotes)
	statuses := map[string]models.QuoteStatus{}
	for _, q := range quotes {
		statuses[q.ID] = q.Status
	}
	suite.Equal(models.QuoteStatusAccepted, statuses[q1.ID])
	suite.Equal(models.QuoteStatusRejected, statuses[q2.ID])

	var mine []service.PharmacyQuote
	suite.expect(call{method: http.MethodGet, path: "/pharmacy/quotes", token: nile}, http.StatusOK, &mine)
	suite.Require().Len(mine, 1)
	suite.Require().NotNil(mine[0].Customer)
	suite.Equal("Customer mona@example.com", mine[0].Customer.FullName)

	suite.expect(call{method: http.MethodGet, path: "/pharmacy/requests", token: nile}, http.StatusOK, &feed)
	suite.Empty(feed)

	var done models.MedicineRequest
	suite.expect(call{method: http.MethodPost, path: "/admin/requests/" + r.ID + "/complete", basic: true}, http.StatusOK, &done)
	suite.Equal(models.RequestStatusCompleted, done.Status)

	suite.drainOutbox([]events.Type{
		events.RequestCreated, events.QuoteSubmitted, events.QuoteSubmitted,
		events.QuoteAccepted, events.QuoteRejected, events.RequestCompleted,
	})
}

// drainOutbox publishes the outbox through a mocked Kafka producer and
// checks the event types in publish order.
func (suite *IntegrationSuite) drainOutbox(want []events.Type) {
	ctx := context.Background()
	producer := mocks.NewSyncProducer(suite.T(), nil)
	var got []events.Type
	for range want {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			e, err := events.Unmarshal(val)
			if err == nil {
				got = append(got, e.Type)
			}
			return err
		})
	}

	p := processor.NewTaskProcessor(suite.store.Tasks(), kafka.WrapSyncProducer(producer), processor.Config{Topic: "lifecycle"})
	suite.Equal(len(want), p.ProcessPendingTasks(ctx))
	suite.Equal(want, got)
	suite.NoError(producer.Close())

	left, err := suite.store.Tasks().ListTasks(ctx, 100)
	suite.Require().NoError(err)
	suite.Empty(left)
}

func (suite *IntegrationSuite) TestCancelAndVisibility() {
	mona := suite.registerCustomer("mona@example.com")
	omar := suite.registerCustomer("omar@example.com")
	nile := suite.registerPharmacy("nile@example.com", 0.01)
	far := suite.registerPharmacy("far@example.com", 0.5)

	r := suite.createRequest(mona)
	suite.expectKind(call{method: http.MethodPost, path: "/pharmacy/requests/" + r.ID + "/quotes", token: far,
		body: quoteBody("10", "5")}, http.StatusForbidden, "Forbidden")
	q := suite.submitQuote(nile, r.ID, "50", "40")

	suite.expectKind(call{method: http.MethodGet, path: "/requests/" + r.ID + "/quotes", token: omar}, http.StatusForbidden, "Forbidden")
	suite.expectKind(call{method: http.MethodPost, path: "/requests/" + r.ID + "/cancel", token: omar}, http.StatusForbidden, "Forbidden")

	var mine []models.MedicineRequest
	suite.expect(call{method: http.MethodGet, path: "/requests", token: omar}, http.StatusOK, &mine)
	suite.Empty(mine)

	var cancelled models.MedicineRequest
	suite.expect(call{method: http.MethodPost, path: "/requests/" + r.ID + "/cancel", token: mona}, http.StatusOK, &cancelled)
	suite.Equal(models.RequestStatusCancelled, cancelled.Status)
	suite.expectKind(call{method: http.MethodPost, path: "/quotes/" + q.ID + "/accept", token: mona,
		body: map[string]string{"channel": "delivery"}}, http.StatusConflict, "InvalidStateTransition")
	suite.expectKind(call{method: http.MethodPost, path: "/requests/" + r.ID + "/cancel", token: mona}, http.StatusConflict, "InvalidStateTransition")

	var address models.MedicineRequest
	suite.expect(call{method: http.MethodPost, path: "/requests", token: mona, body: map[string]interface{}{
		"prescription_image_url": "https://files.example.com/rx.png", "radius": 10, "address": "kasr el nil 10",
	}}, http.StatusCreated, &address)
	suite.Equal(30.0450, address.CustomerLatitude)
	suite.expectKind(call{method: http.MethodPost, path: "/requests", token: mona, body: map[string]interface{}{
		"prescription_image_url": "https://files.example.com/rx.png", "radius": 10, "address": "Unknown street",
	}}, http.StatusUnprocessableEntity, "AddressUnresolvable")
}

func (suite *IntegrationSuite) TestConcurrentAccept() {
	mona := suite.registerCustomer("mona@example.com")
	r := suite.createRequest(mona)
	var ids []string
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		token := suite.registerPharmacy(email, 0.01*float64(i+1))
		ids = append(ids, suite.submitQuote(token, r.ID, "100", "90").ID)
	}

	codes := make([]int, 9)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := suite.do(call{method: http.MethodPost, path: "/quotes/" + ids[i%3] + "/accept", token: mona,
				body: map[string]string{"channel": "pickup"}})
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, c := range codes {
		if c == http.StatusOK {
			wins++
			continue
		}
		suite.Equal(http.StatusConflict, c)
	}
	suite.Equal(1, wins)

	var quotes []models.Quote
	suite.expect(call{method: http.MethodGet, path: "/requests/" + r.ID + "/quotes", token: mona}, http.StatusOK, &quotes)
	accepted := 0
	for _, q := range quotes {
		if q.Status == models.QuoteStatusAccepted {
			accepted++
		} else {
			suite.Equal(models.QuoteStatusRejected, q.Status)
		}
	}
	suite.Equal(1, accepted)
}
