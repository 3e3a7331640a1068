package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/models"
)

func TestLoginStoresSession(t *testing.T) {
	token := signToken(t, time.Now().Add(time.Hour), "login")
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Email != "ana@cloudfarm.test" || body.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": testProfile()})
	})
	f := newFixture(t, "", mux)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "ana@cloudfarm.test", "wrong", false)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.False(t, f.store.IsAuthenticated())

	user, err := f.client.Login(ctx, " Ana@CloudFarm.test ", "secret", true)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, f.store.IsAuthenticated())
	assert.Equal(t, "ana@cloudfarm.test", f.store.RememberedLogin(ctx))

	_, err = f.client.Login(ctx, "ana@cloudfarm.test", "secret", false)
	require.NoError(t, err)
	assert.Empty(t, f.store.RememberedLogin(ctx))
}

func TestCreateTalhaoComputesStatus(t *testing.T) {
	token := signToken(t, time.Now().Add(time.Hour), "c")
	var gotAuth, gotMethod string
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/talhoes", func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusCreated, map[string]any{"talhao": map[string]any{
			"id":            "t21",
			"nome":          gotBody["nome"],
			"area_hectares": gotBody["area_hectares"],
		}})
	})
	f := newFixture(t, token, mux)

	nome, area := "T21", 50.0
	talhao, err := f.client.CreateTalhao(context.Background(), models.TalhaoInput{Nome: &nome, AreaHectares: &area})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.Equal(t, map[string]any{"nome": "T21", "area_hectares": 50.0}, gotBody)
	assert.Equal(t, "t21", talhao.ID)
	assert.Equal(t, models.StatusDisponivel, talhao.Status)
}

func TestListTalhoesRecomputesStatus(t *testing.T) {
	planted := time.Now().AddDate(0, -3, 0)
	soon := time.Now().AddDate(0, 0, 5)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/talhoes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "soja", r.URL.Query().Get("cultura"))
		writeJSON(w, http.StatusOK, map[string]any{"talhoes": []map[string]any{{
			"id":                     "t1",
			"nome":                   "Norte",
			"status":                 "em_crescimento",
			"data_plantio":           planted,
			"data_colheita_prevista": soon,
		}}})
	})
	f := newFixture(t, signToken(t, time.Now().Add(time.Hour), "l"), mux)

	talhoes, err := f.client.ListTalhoes(context.Background(), TalhaoFilter{Cultura: "soja"})
	require.NoError(t, err)
	require.Len(t, talhoes, 1)
	assert.Equal(t, models.StatusProximoColheita, talhoes[0].Status)
}

func TestUpdateAndDeleteTalhao(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/talhoes/t1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			writeJSON(w, http.StatusOK, map[string]any{"talhao": map[string]any{"id": "t1", "nome": "Renamed"}})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/talhoes/locked", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	})
	f := newFixture(t, signToken(t, time.Now().Add(time.Hour), "u"), mux)
	ctx := context.Background()

	name := "Renamed"
	talhao, err := f.client.UpdateTalhao(ctx, "t1", models.TalhaoInput{Nome: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", talhao.Nome)

	require.NoError(t, f.client.DeleteTalhao(ctx, "t1"))
	assert.True(t, IsStatus(f.client.DeleteTalhao(ctx, "locked"), http.StatusForbidden))
}

func TestUploadAndListImages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/talhoes/t1/imagens", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]any{"imagens": []models.TalhaoImage{{Key: "talhoes/t1/a.png"}}})
			return
		}
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "drone.png", header.Filename)
		assert.Equal(t, []byte("png-bytes"), data)
		writeJSON(w, http.StatusCreated, map[string]any{"imagem": models.TalhaoImage{Key: "talhoes/t1/drone.png", Size: int64(len(data))}})
	})
	f := newFixture(t, signToken(t, time.Now().Add(time.Hour), "i"), mux)
	ctx := context.Background()

	img, err := f.client.UploadTalhaoImage(ctx, "t1", "drone.png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, int64(9), img.Size)

	imgs, err := f.client.ListTalhaoImages(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "talhoes/t1/a.png", imgs[0].Key)
}
