package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

func TestIssueCouponRequest(t *testing.T) {
	v := New()

	if err := v.Struct(IssueCouponRequest{UserID: "u-1", CouponID: "c-1"}); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if err := v.Struct(IssueCouponRequest{UserID: "u-1"}); err == nil {
		t.Fatal("expected missing coupon_id to fail")
	}
}

func TestCreateCouponRequest_Valid(t *testing.T) {
	v := New()

	from := time.Now()
	until := from.Add(24 * time.Hour)
	req := CreateCouponRequest{
		Name:          "spring",
		DiscountType:  "PERCENT",
		DiscountValue: 20,
		Quantity:      100,
		ValidFrom:     &from,
		ValidUntil:    &until,
	}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateCouponRequest_Invalid(t *testing.T) {
	v := New()
	from := time.Now()
	before := from.Add(-time.Hour)

	cases := []struct {
		name string
		req  CreateCouponRequest
		tag  string
	}{
		{"unknown type", CreateCouponRequest{Name: "a", DiscountType: "BOGO", DiscountValue: 1, Quantity: 1}, "oneof"},
		{"percent over 100", CreateCouponRequest{Name: "a", DiscountType: "PERCENT", DiscountValue: 101, Quantity: 1}, "percent_max"},
		{"no quantity", CreateCouponRequest{Name: "a", DiscountType: "FIXED", DiscountValue: 5}, "required"},
		{"inverted window", CreateCouponRequest{Name: "a", DiscountType: "FIXED", DiscountValue: 5, Quantity: 1, ValidFrom: &from, ValidUntil: &before}, "after_valid_from"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Struct(tc.req)
			var ve validatorv10.ValidationErrors
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation errors, got %v", err)
			}
			found := false
			for _, fe := range ve {
				if fe.Tag() == tc.tag {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected tag %s in %v", tc.tag, ve)
			}
		})
	}
}

func TestBindAndValidateWritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	for _, body := range []string{`{"user_id":`, `{"user_id":"u"}`} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/issuances", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")

		var req IssueCouponRequest
		if err := BindAndValidate(c, &req, v); err == nil {
			t.Fatalf("expected error for body %s", body)
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	}
}

func TestFieldErrorsUseJSONNames(t *testing.T) {
	v := New()

	err := v.Struct(CreateCouponRequest{DiscountType: "PERCENT", DiscountValue: 150, Quantity: 1})
	got := FieldErrors(err)

	want := map[string]string{"name": "required", "discount_value": "percent_max"}
	if len(got) != len(want) {
		t.Fatalf("expected %d field errors, got %+v", len(want), got)
	}
	for _, fe := range got {
		if want[fe.Field] != fe.Rule {
			t.Fatalf("unexpected field error %+v", fe)
		}
	}
	if got[0].Field != "name" {
		t.Fatalf("expected declaration order, got %+v", got)
	}
}

func TestFieldErrorsWrapsOtherErrors(t *testing.T) {
	got := FieldErrors(errors.New("boom"))
	if len(got) != 1 || got[0].Field != "" || got[0].Rule != "boom" {
		t.Fatalf("unexpected %+v", got)
	}
}
