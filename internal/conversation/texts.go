package conversation

// Fixed Traditional Chinese copy.
const (
	textWelcome     = "🎬 歡迎使用看片機器人！"
	textMainMenu    = "🎬 主選單\n\n請選擇您想要的功能："
	textAskKeyword  = "🔍 請輸入搜尋關鍵字："
	textNotFound    = "😔 沒有找到包含「%s」的影片"
	textNoVideos    = "😔 目前沒有可用的影片"
	textSponsors    = "📣 感謝您支持我們的贊助商！"
	textCooldown    = "⏰ 請等待3秒後再試"
	textEcho        = "您說：%s"
	textUnsupported = "❌ 不支援的訊息類型"
	textNothing     = "❌ 沒有待發送的訊息"
	textNoUsers     = "❌ 沒有活躍用戶"
	textTextOnly    = "❌ 請發送文字訊息"

	textAdminPanel  = "🔐 管理員面板\n\n請選擇要執行的操作："
	textEditMenu    = "📝 編輯訊息功能\n\n請選擇要編輯的項目："
	textAskStart    = "📝 請發送新的開始訊息文字：\n\n（原有的自訂按鈕會保留）"
	textStartSaved  = "✅ 開始訊息已更新"
	textAskSponsors = "🔗 請發送贊助商連結，格式：\n按鈕文字 | 按鈕網址\n\n每行一個按鈕："
	textSponsorsBad = "❌ 沒有有效的連結，請使用「按鈕文字 | 按鈕網址」格式"
	textSponsorsOK  = "✅ 贊助商連結已更新（%d 個）"

	textVideoMenu  = "🎬 影片管理功能\n\n📤 上傳：直接發送影片，說明第一行為標題，#標籤 自動擷取\n🗑️ 刪除：/delvideo <影片ID>"
	textUploaded   = "✅ 影片已成功上傳！\n\n🆔 ID：%d\n📝 標題：%s\n🏷️ 標籤：%s"
	textDelUsage   = "❌ 用法：/delvideo <影片ID>"
	textDelMissing = "❌ 找不到影片 ID:%d"
	textDeleted    = "✅ 已刪除影片 ID:%d"

	textUserStats = "👥 用戶管理\n\n📊 統計數據：\n• 總用戶數：%d\n• 今日新增：%d\n• 今日活躍：%d\n• 週活躍：%d"

	textAskBroadcast = "📊 群發訊息\n\n請發送要群發的內容：\n• 支援文字訊息\n• 支援圖片（含文字說明）\n• 支援GIF動圖（含文字說明）\n• 支援影片（含文字說明）\n\n發送後可選擇是否添加按鈕。"
	textAskButtons   = "🔘 添加按鈕\n\n請發送按鈕設定，格式：\n按鈕文字 | 按鈕網址\n\n範例：\n官方網站 | https://example.com\n聯絡我們 | https://t.me/example\n\n每行一個按鈕："
	textPreview      = "📊 群發訊息預覽\n\n訊息類型：%s\n內容：%s\n\n請選擇："
	textFinalPreview = "📊 群發訊息最終預覽\n\n訊息類型：%s\n內容：%s%s\n\n確認發送？"
	textStarting     = "📊 開始群發訊息..."
	textProgress     = "📊 群發進度\n\n目標用戶：%d 人\n發送進度：%d/%d\n成功：%d\n失敗：%d"
	textDone         = "✅ 群發完成！\n\n📊 發送統計：\n• 目標用戶：%d 人\n• 成功發送：%d 人\n• 發送失敗：%d 人\n• 成功率：%.1f%%"
	textStopped      = "⛔ 群發已停止\n\n📊 發送統計：\n• 目標用戶：%d 人\n• 成功發送：%d 人\n• 發送失敗：%d 人\n• 未發送：%d 人\n• 成功率：%.1f%%"
	textFailed       = "❌ 群發失敗，請稍後再試"
	textBusy         = "⏳ 已有群發正在進行"
	textUnavailable  = "⏳ 群發服務暫時無法使用"
	textStopAsked    = "⛔ 已要求停止群發"
	textNotRunning   = "❌ 沒有進行中的群發"
)

// Button labels.
const (
	btnJoined     = "✅ 我已加入群組"
	btnSearch     = "🔍 搜尋影片"
	btnRandom     = "🎲 隨機看片"
	btnSponsors   = "📣 贊助商連結"
	btnNext       = "🎲 下一部"
	btnBackMenu   = "🔙 回到選單"
	btnSendNow    = "✅ 直接發送"
	btnAddButtons = "🔘 添加按鈕"
	btnCancel     = "❌ 取消"
	btnConfirm    = "✅ 確認發送"
	btnStop       = "⛔ 停止群發"
	btnBackPanel  = "🔙 返回管理面板"
	btnBack       = "🔙 返回"
	btnEdit       = "📝 編輯訊息"
	btnVideos     = "🎬 影片管理"
	btnUsers      = "👥 用戶管理"
	btnBroadcast  = "📊 發送訊息"
	btnEditStart  = "📝 編輯開始訊息"
	btnEditLinks  = "🔗 編輯贊助商連結"
	btnVideoList  = "📋 影片列表"
	btnAllVideos  = "📋 全部影片"
	btnPrev       = "⬅️ 上一頁"
	btnNextPage   = "下一頁 ➡️"
)

// Draft content labels used in previews.
const (
	labelPhoto     = "圖片訊息"
	labelAnimation = "GIF動圖"
	labelVideo     = "影片訊息"
	labelNoCaption = "無說明文字"
	labelNone      = "無"
)
