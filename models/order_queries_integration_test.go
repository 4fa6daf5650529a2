package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"bitbucket.org/mmdatafocus/orderexport_backend/models"
	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
	"github.com/shopspring/decimal"
)

func TestOrderQueries_WindowPreloadAndMetaScan(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "orderexport_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	makeOrder := func(number string, createdAt time.Time) *models.Order {
		order := &models.Order{
			OrderNumber:   number,
			CurrentStatus: models.OrderStatusCompleted,
			Total:         decimal.RequireFromString("49.99"),
			CreatedAt:     createdAt,
		}
		if err := db.WithContext(ctx).Create(order).Error; err != nil {
			t.Fatalf("create order %s: %v", number, err)
		}
		return order
	}

	inside1 := makeOrder("1001", time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC))
	inside2 := makeOrder("1002", time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC))
	makeOrder("0999", time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC))
	makeOrder("1003", time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC))

	item := &models.OrderLineItem{
		OrderId:     inside1.ID,
		ProductName: "Mug",
		Sku:         "MUG-01",
		Quantity:    2,
		LineTotal:   decimal.RequireFromString("19.98"),
	}
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		t.Fatalf("create line item: %v", err)
	}
	meta := []models.OrderItemMeta{
		{LineItemId: item.ID, MetaKey: "engraving_text", MetaValue: "Hello"},
		{LineItemId: item.ID, MetaKey: "_qty", MetaValue: "2"},
	}
	for i := range meta {
		if err := db.WithContext(ctx).Create(&meta[i]).Error; err != nil {
			t.Fatalf("create item meta: %v", err)
		}
	}

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)
	ids, err := models.OrderIdsCreatedBetween(ctx, from, to)
	if err != nil {
		t.Fatalf("OrderIdsCreatedBetween: %v", err)
	}
	if len(ids) != 2 || ids[0] != inside1.ID || ids[1] != inside2.ID {
		t.Fatalf("expected [%d %d] oldest first, got %v", inside1.ID, inside2.ID, ids)
	}

	loaded, err := models.GetOrder(ctx, inside1.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(loaded.Items) != 1 {
		t.Fatalf("expected 1 preloaded line item, got %d", len(loaded.Items))
	}
	if len(loaded.Items[0].Meta) != 2 {
		t.Fatalf("expected 2 preloaded meta rows, got %d", len(loaded.Items[0].Meta))
	}
	if value, ok := loaded.Items[0].MetaValue("engraving_text"); !ok || value != "Hello" {
		t.Fatalf("expected engraving_text=Hello, got (%q, %v)", value, ok)
	}

	if _, err := models.GetOrder(ctx, 999999); err == nil {
		t.Fatal("expected error for unknown order id")
	}

	keys, err := models.DistinctLineItemMetaKeys(ctx)
	if err != nil {
		t.Fatalf("DistinctLineItemMetaKeys: %v", err)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["engraving_text"] || !seen["_qty"] {
		t.Fatalf("expected discovered meta keys, got %v", keys)
	}
}

func TestLogin_RespectsActiveFlagAndCredentials(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "orderexport_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	hashed, err := utils.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := models.User{
		Username: "ops",
		Name:     "Ops",
		Password: string(hashed),
		IsActive: utils.NewFalse(),
		Role:     models.UserRoleManager,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := models.Login(ctx, "ops", "s3cret"); err == nil {
		t.Fatal("expected login to fail for a disabled user")
	}

	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", "ops").Update("is_active", true).Error; err != nil {
		t.Fatalf("activate user: %v", err)
	}

	info, err := models.Login(ctx, "ops", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if info.Token == "" || info.Role != "M" {
		t.Fatalf("unexpected login info: %+v", info)
	}

	if _, err := models.Login(ctx, "ops", "wrong"); err == nil {
		t.Fatal("expected login to fail on a bad password")
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("orderexport-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=orderexport_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
