package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/password"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

var alice = session.Identity{UserDN: "uid=alice", GUID: "guid-alice"}

func cheapHash() password.Config {
	return password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
}

func newTestDirectory(t *testing.T, api *mockAPI) *Directory {
	t.Helper()
	logger, _ := test.NewNullLogger()
	d, err := New(api, Config{Table: "users", SearchFields: []string{"username", "mail"}, Hash: cheapHash()}, logger)
	require.NoError(t, err)
	return d
}

func aliceItem(t *testing.T, mutate func(*User)) map[string]types.AttributeValue {
	t.Helper()
	u := User{
		UserDN:            alice.UserDN,
		GUID:              alice.GUID,
		Attributes:        map[string]string{"mail": "alice@example.com", "employeeNumber": "1001"},
		PasswordChangedAt: "2024-01-01T00:00:00Z",
	}
	if mutate != nil {
		mutate(&u)
	}
	item, err := attributevalue.MarshalMap(u)
	require.NoError(t, err)
	item["username"] = &types.AttributeValueMemberS{Value: "alice"}
	item["mail"] = &types.AttributeValueMemberS{Value: "alice@example.com"}
	return item
}

func expectGet(api *mockAPI, item map[string]types.AttributeValue) {
	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return *in.TableName == "users" && *in.ConsistentRead
	})).Return(&dynamodb.GetItemOutput{Item: item}, nil)
}

func TestNewValidatesConfig(t *testing.T) {
	api := &mockAPI{}
	_, err := New(nil, Config{Table: "users", SearchFields: []string{"username"}}, nil)
	assert.Error(t, err)
	_, err = New(api, Config{SearchFields: []string{"username"}}, nil)
	assert.Error(t, err)
	_, err = New(api, Config{Table: "users"}, nil)
	assert.Error(t, err)
	_, err = New(api, Config{Table: "users", SearchFields: []string{"username"}, Hash: password.Config{Memory: 1}}, nil)
	assert.Error(t, err)
}

func TestSearchFindsSingleUser(t *testing.T) {
	api := &mockAPI{}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return *in.IndexName == "username-index" && in.ExpressionAttributeNames["#a"] == "username"
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{aliceItem(t, nil)}}, nil).Once()

	d := newTestDirectory(t, api)
	id, err := d.Search(context.Background(), "staff", map[string]string{"username": " alice "})
	require.NoError(t, err)
	assert.Equal(t, session.Identity{UserDN: alice.UserDN, GUID: alice.GUID, ProfileID: "staff"}, id)
	api.AssertExpectations(t)
}

func TestSearchRequiresEveryPresentField(t *testing.T) {
	api := &mockAPI{}
	api.On("Query", mock.Anything, mock.Anything).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{aliceItem(t, nil)}}, nil)

	d := newTestDirectory(t, api)
	_, err := d.Search(context.Background(), "", map[string]string{"username": "alice", "mail": "bob@example.com"})
	assert.ErrorIs(t, err, recovery.ErrIdentityNotFound)
}

func TestSearchMissesAndAmbiguity(t *testing.T) {
	api := &mockAPI{}
	d := newTestDirectory(t, api)

	_, err := d.Search(context.Background(), "", map[string]string{"other": "x"})
	assert.ErrorIs(t, err, recovery.ErrIdentityNotFound)
	api.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)

	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		aliceItem(t, nil),
		aliceItem(t, func(u *User) { u.UserDN = "uid=alice2" }),
	}}, nil).Once()
	_, err = d.Search(context.Background(), "", map[string]string{"username": "alice"})
	assert.ErrorIs(t, err, recovery.ErrIdentityNotFound)
}

func TestSearchOutageIsDirectoryUnavailable(t *testing.T) {
	api := &mockAPI{}
	api.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	d := newTestDirectory(t, api)
	_, err := d.Search(context.Background(), "", map[string]string{"username": "alice"})
	assert.ErrorIs(t, err, recovery.ErrDirectoryUnavailable)
	assert.NotErrorIs(t, err, recovery.ErrIdentityNotFound)
}

func TestReadAndCompareAttributes(t *testing.T) {
	api := &mockAPI{}
	expectGet(api, aliceItem(t, nil))
	d := newTestDirectory(t, api)
	ctx := context.Background()

	v, ok, err := d.ReadAttribute(ctx, alice, "mail")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", v)

	v, ok, err = d.ReadAttribute(ctx, alice, "pwdChangedTime")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-01T00:00:00Z", v)

	_, ok, err = d.ReadAttribute(ctx, alice, "mobile")
	require.NoError(t, err)
	assert.False(t, ok)

	match, err := d.CompareAttribute(ctx, alice, "employeeNumber", "1001")
	require.NoError(t, err)
	assert.True(t, match)
	match, err = d.CompareAttribute(ctx, alice, "employeeNumber", "1002")
	require.NoError(t, err)
	assert.False(t, match)
	match, err = d.CompareAttribute(ctx, alice, "mobile", "")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestLoadRejectsMissingOrReplacedUser(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
	d := newTestDirectory(t, api)

	_, err := d.IsLocked(context.Background(), alice)
	assert.ErrorIs(t, err, ErrUserMissing)

	expectGet(api, aliceItem(t, func(u *User) { u.GUID = "guid-other" }))
	_, err = d.IsPasswordExpired(context.Background(), alice)
	assert.ErrorIs(t, err, ErrUserMissing)
}

func TestSetPasswordStoresVerifiableHash(t *testing.T) {
	api := &mockAPI{}
	var captured *dynamodb.UpdateItemInput
	api.On("UpdateItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*dynamodb.UpdateItemInput)
	}).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

	d := newTestDirectory(t, api)
	require.NoError(t, d.SetPassword(context.Background(), alice, "Correct-Horse-42"))
	require.NotNil(t, captured)

	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #f2 = :v2", *captured.UpdateExpression)
	assert.Equal(t, "attribute_exists(#k)", *captured.ConditionExpression)
	assert.Equal(t, "password_hash", captured.ExpressionAttributeNames["#f2"])

	hashVal, ok := captured.ExpressionAttributeValues[":v2"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	hasher, err := password.NewArgon2(cheapHash())
	require.NoError(t, err)
	verified, err := hasher.Verify("Correct-Horse-42", hashVal.Value)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestWriteAttributesTargetsAttributeMap(t *testing.T) {
	api := &mockAPI{}
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.UpdateExpression == "SET #p.#f0 = :v0" &&
			in.ExpressionAttributeNames["#p"] == "attributes" &&
			*in.ConditionExpression == "attribute_exists(#k) AND attribute_exists(#p)"
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

	d := newTestDirectory(t, api)
	require.NoError(t, d.WriteAttributes(context.Background(), alice, map[string]string{"pwmRecoveredAt": "yes"}))
	require.NoError(t, d.WriteAttributes(context.Background(), alice, nil))
	api.AssertExpectations(t)
}

func TestUpdateMapsConditionFailure(t *testing.T) {
	api := &mockAPI{}
	api.On("UpdateItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: strPtr("gone")}).Once()
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	d := newTestDirectory(t, api)
	assert.ErrorIs(t, d.Unlock(context.Background(), alice), ErrUserMissing)
	assert.ErrorIs(t, d.ExpirePassword(context.Background(), alice), recovery.ErrDirectoryUnavailable)
}

func strPtr(s string) *string { return &s }

func TestEnrollAndTestResponses(t *testing.T) {
	api := &mockAPI{}
	var stored map[string]types.AttributeValue
	api.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*dynamodb.PutItemInput).Item
	}).Return(&dynamodb.PutItemOutput{}, nil).Once()

	d := newTestDirectory(t, api)
	u := User{
		UserDN: alice.UserDN,
		GUID:   alice.GUID,
		Search: map[string]string{"username": "alice"},
		Responses: &StoredResponses{
			MinRandomRequired: 1,
			Challenges: []StoredChallenge{
				{ID: "pet", Text: "First pet?", Required: true},
				{ID: "city", Text: "Birth city?"},
				{ID: "car", Text: "First car?"},
			},
		},
	}
	require.NoError(t, d.Enroll(context.Background(), u, "Initial-Passw0rd", map[string]string{
		"pet": "Rex", "city": "Oslo", "car": "Volvo",
	}))
	require.NotNil(t, stored)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "alice"}, stored["username"])

	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil)
	rs, ok, err := d.ReadResponseSet(context.Background(), alice, "nb")
	require.NoError(t, err)
	require.True(t, ok)

	set := rs.ChallengeSet()
	assert.Equal(t, "nb", set.Locale)
	assert.Len(t, set.Challenges, 3)
	assert.True(t, rs.MeetsPolicy(session.ChallengePolicy{MinRequired: 1, MinRandom: 2}))
	assert.False(t, rs.MeetsPolicy(session.ChallengePolicy{MinRequired: 2}))

	ctx := context.Background()
	passed, regenerated, err := rs.Test(ctx, map[string]string{"pet": "  rex ", "city": "OSLO"})
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Nil(t, regenerated)

	passed, _, err = rs.Test(ctx, map[string]string{"pet": "rex"})
	require.NoError(t, err)
	assert.False(t, passed, "one random answer is required")

	passed, _, err = rs.Test(ctx, map[string]string{"pet": "rex", "city": "oslo", "car": "saab"})
	require.NoError(t, err)
	assert.False(t, passed, "a wrong answer fails the set")

	passed, _, err = rs.Test(ctx, map[string]string{"city": "oslo"})
	require.NoError(t, err)
	assert.False(t, passed, "required answers cannot be skipped")
}

func TestReadOTPRecordAndCounter(t *testing.T) {
	api := &mockAPI{}
	expectGet(api, aliceItem(t, func(u *User) {
		u.OTP = &otp.Record{Kind: otp.KindHOTP, Secret: "JBSWY3DPEHPK3PXP", Counter: 7}
	}))
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.ExpressionAttributeNames["#p"] == "otp" && in.ExpressionAttributeNames["#f0"] == "counter"
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

	d := newTestDirectory(t, api)
	rec, ok, err := d.ReadOTPRecord(context.Background(), alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), rec.Counter)
	assert.Equal(t, otp.KindHOTP, rec.Kind)

	require.NoError(t, d.UpdateOTPCounter(context.Background(), alice, 8))
	api.AssertExpectations(t)
}

func TestReadResponseSetAbsent(t *testing.T) {
	api := &mockAPI{}
	expectGet(api, aliceItem(t, nil))
	d := newTestDirectory(t, api)

	_, ok, err := d.ReadResponseSet(context.Background(), alice, "en")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = d.ReadOTPRecord(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, ok)
}
